package imagecache

import "net/http"

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300" viewBox="0 0 400 300">` +
	`<rect width="400" height="300" fill="#f3f4f6"/>` +
	`<path d="M170 180l25-32 18 22 12-15 25 25z" fill="#d1d5db"/>` +
	`<circle cx="178" cy="128" r="10" fill="#d1d5db"/>` +
	`</svg>`

// Response is a complete HTTP response body with the headers that matter.
type Response struct {
	Status       int
	ContentType  string
	CacheControl string
	Body         []byte
}

// Placeholder is served whenever no image can be produced. It is identical
// on every call.
func Placeholder() Response {
	return Response{
		Status:       http.StatusOK,
		ContentType:  "image/svg+xml",
		CacheControl: "public, max-age=31536000, immutable",
		Body:         []byte(placeholderSVG),
	}
}
