package catalog

import (
	"time"

	"github.com/chentyke/chargebaby-sub000/internal/notion"
)

// Collection names. They double as cache key prefixes.
const (
	ChargeBabyCollection = "chargebaby"
	ChargerCollection    = "charger"
	CableCollection      = "cable"
)

// Record holds the properties shared by every collection.
type Record struct {
	ID        string         `json:"id"`
	Slug      string         `json:"slug"`
	Title     string         `json:"title"`
	Brand     string         `json:"brand,omitempty"`
	Model     string         `json:"model,omitempty"`
	Price     float64        `json:"price,omitempty"`
	Image     string         `json:"image,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
	Content   []notion.Block `json:"content,omitempty"`

	hidden bool
}

func (r Record) Key() string    { return r.Slug }
func (r Record) PageID() string { return r.ID }

// ChargeBaby is a power bank review entry.
type ChargeBaby struct {
	Record
	CapacityMAh float64  `json:"capacity_mah,omitempty"`
	MaxOutputW  float64  `json:"max_output_w,omitempty"`
	Protocols   []string `json:"protocols,omitempty"`
}

// Charger is a wall charger review entry.
type Charger struct {
	Record
	MaxOutputW float64  `json:"max_output_w,omitempty"`
	Ports      []string `json:"ports,omitempty"`
	Protocols  []string `json:"protocols,omitempty"`
}

// Cable is a charging cable review entry.
type Cable struct {
	Record
	Connector string  `json:"connector,omitempty"`
	LengthM   float64 `json:"length_m,omitempty"`
	MaxPowerW float64 `json:"max_power_w,omitempty"`
	DataRate  string  `json:"data_rate,omitempty"`
}

var publishedOnly = map[string]any{
	"property": "Published",
	"checkbox": map[string]any{"equals": true},
}

var newestFirst = []notion.Sort{{Timestamp: "created_time", Direction: "descending"}}

func decodeRecord(p notion.Page) (Record, bool) {
	slug := p.Text("Slug")
	if p.ID == "" || slug == "" {
		return Record{}, false
	}
	return Record{
		ID:        p.ID,
		Slug:      slug,
		Title:     p.Text("Title"),
		Brand:     p.Text("Brand"),
		Model:     p.Text("Model"),
		Price:     p.Number("Price"),
		Image:     p.FileURL("Image"),
		Tags:      p.Names("Tags"),
		UpdatedAt: p.LastEditedTime,
		hidden:    p.Bool("Hidden"),
	}, true
}

func visibleRecord(r Record) bool { return !r.hidden }

// ChargeBabies describes the power bank collection.
func ChargeBabies(databaseID string) Definition[ChargeBaby] {
	return Definition[ChargeBaby]{
		Name:       ChargeBabyCollection,
		DatabaseID: databaseID,
		Query:      notion.Query{Filter: publishedOnly, Sorts: newestFirst},
		Decode: func(p notion.Page) (ChargeBaby, bool) {
			rec, ok := decodeRecord(p)
			if !ok {
				return ChargeBaby{}, false
			}
			return ChargeBaby{
				Record:      rec,
				CapacityMAh: p.Number("Capacity"),
				MaxOutputW:  p.Number("MaxOutput"),
				Protocols:   p.Names("Protocols"),
			}, true
		},
		Visible: func(b ChargeBaby) bool { return visibleRecord(b.Record) },
		Attach: func(b ChargeBaby, blocks []notion.Block) ChargeBaby {
			b.Content = blocks
			return b
		},
	}
}

// Chargers describes the wall charger collection.
func Chargers(databaseID string) Definition[Charger] {
	return Definition[Charger]{
		Name:       ChargerCollection,
		DatabaseID: databaseID,
		Query:      notion.Query{Filter: publishedOnly, Sorts: newestFirst},
		Decode: func(p notion.Page) (Charger, bool) {
			rec, ok := decodeRecord(p)
			if !ok {
				return Charger{}, false
			}
			return Charger{
				Record:     rec,
				MaxOutputW: p.Number("MaxOutput"),
				Ports:      p.Names("Ports"),
				Protocols:  p.Names("Protocols"),
			}, true
		},
		Visible: func(c Charger) bool { return visibleRecord(c.Record) },
		Attach: func(c Charger, blocks []notion.Block) Charger {
			c.Content = blocks
			return c
		},
	}
}

// Cables describes the cable collection.
func Cables(databaseID string) Definition[Cable] {
	return Definition[Cable]{
		Name:       CableCollection,
		DatabaseID: databaseID,
		Query:      notion.Query{Filter: publishedOnly, Sorts: newestFirst},
		Decode: func(p notion.Page) (Cable, bool) {
			rec, ok := decodeRecord(p)
			if !ok {
				return Cable{}, false
			}
			return Cable{
				Record:    rec,
				Connector: p.Text("Connector"),
				LengthM:   p.Number("Length"),
				MaxPowerW: p.Number("MaxPower"),
				DataRate:  p.Text("DataRate"),
			}, true
		},
		Visible: func(c Cable) bool { return visibleRecord(c.Record) },
		Attach: func(c Cable, blocks []notion.Block) Cable {
			c.Content = blocks
			return c
		},
	}
}
