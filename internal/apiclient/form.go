package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// Form is a multipart/form-data payload, used for uploads such as event posters.
// Requests carrying a Form keep the multipart content type with its boundary
// instead of the JSON default.
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct {
	name, value string
}

type formFile struct {
	field, filename string
	content         io.Reader
}

// NewForm creates an empty multipart form.
func NewForm() *Form {
	return &Form{}
}

// Field adds a text field.
func (f *Form) Field(name, value string) *Form {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// File adds a file part read from content when the request is built.
func (f *Form) File(field, filename string, content io.Reader) *Form {
	f.files = append(f.files, formFile{field: field, filename: filename, content: content})
	return f
}

// encode renders the form and returns it with its content type.
func (f *Form) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, field := range f.fields {
		if err := w.WriteField(field.name, field.value); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", field.name, err)
		}
	}
	for _, file := range f.files {
		part, err := w.CreateFormFile(file.field, file.filename)
		if err != nil {
			return nil, "", fmt.Errorf("creating form file %s: %w", file.field, err)
		}
		if _, err := io.Copy(part, file.content); err != nil {
			return nil, "", fmt.Errorf("writing form file %s: %w", file.field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
