package gemini

import "fmt"

type ImageInput struct {
	DataBase64 string
	MimeType   string
}

type Response struct {
	Text string
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini API %d: %s", e.StatusCode, e.Body)
}
