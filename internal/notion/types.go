package notion

import (
	"encoding/json"
	"strings"
	"time"
)

// Page is a database record.
type Page struct {
	ID             string              `json:"id"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Archived       bool                `json:"archived"`
	URL            string              `json:"url"`
	Properties     map[string]Property `json:"properties"`
}

type Property struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	Checkbox    bool           `json:"checkbox,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Date        *Date          `json:"date,omitempty"`
	Files       []File         `json:"files,omitempty"`
}

type RichText struct {
	PlainText string  `json:"plain_text"`
	Href      *string `json:"href,omitempty"`
}

type SelectOption struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type Date struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type File struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	File     *FileObject `json:"file,omitempty"`
	External *FileObject `json:"external,omitempty"`
}

type FileObject struct {
	URL        string     `json:"url"`
	ExpiryTime *time.Time `json:"expiry_time,omitempty"`
}

// Link returns the hosted or external URL of the file.
func (f File) Link() string {
	if f.File != nil {
		return f.File.URL
	}
	if f.External != nil {
		return f.External.URL
	}
	return ""
}

func plain(parts []RichText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return b.String()
}

// Text returns the textual value of a title, rich text, select, url or date
// property. Missing properties yield "".
func (p Page) Text(name string) string {
	prop, ok := p.Properties[name]
	if !ok {
		return ""
	}
	switch prop.Type {
	case "title":
		return strings.TrimSpace(plain(prop.Title))
	case "rich_text":
		return strings.TrimSpace(plain(prop.RichText))
	case "select":
		if prop.Select != nil {
			return prop.Select.Name
		}
	case "url":
		if prop.URL != nil {
			return *prop.URL
		}
	case "date":
		if prop.Date != nil {
			return prop.Date.Start
		}
	}
	return ""
}

func (p Page) Number(name string) float64 {
	if prop, ok := p.Properties[name]; ok && prop.Number != nil {
		return *prop.Number
	}
	return 0
}

func (p Page) Bool(name string) bool {
	return p.Properties[name].Checkbox
}

// Names returns the option names of a multi-select property.
func (p Page) Names(name string) []string {
	prop, ok := p.Properties[name]
	if !ok || len(prop.MultiSelect) == 0 {
		return nil
	}
	out := make([]string, 0, len(prop.MultiSelect))
	for _, o := range prop.MultiSelect {
		out = append(out, o.Name)
	}
	return out
}

// FileURL returns the first file link of a files property.
func (p Page) FileURL(name string) string {
	for _, f := range p.Properties[name].Files {
		if link := f.Link(); link != "" {
			return link
		}
	}
	return ""
}

// Block is a content block. Content holds the type-specific payload verbatim;
// Children is filled by BlockTree.
type Block struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	HasChildren bool            `json:"has_children"`
	Content     json.RawMessage `json:"content,omitempty"`
	Children    []Block         `json:"children,omitempty"`
}

// UnmarshalJSON reads the upstream wire form, where the payload lives under
// a field named after the block type.
func (b *Block) UnmarshalJSON(data []byte) error {
	var head struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		HasChildren bool   `json:"has_children"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	b.ID = head.ID
	b.Type = head.Type
	b.HasChildren = head.HasChildren
	b.Content = fields[head.Type]
	if b.Content == nil {
		b.Content = fields["content"]
	}
	if raw, ok := fields["children"]; ok {
		if err := json.Unmarshal(raw, &b.Children); err != nil {
			return err
		}
	}
	return nil
}

// Query is the body of a database query.
type Query struct {
	Filter      any    `json:"filter,omitempty"`
	Sorts       []Sort `json:"sorts,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction"`
}

type pageList struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

type blockList struct {
	Results    []Block `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}
