package gateway

import (
	"bytes"
	"mime/multipart"
)

// Form is a multipart/form-data body. Passing one as Options.Body makes the
// encoder own the Content-Type header, boundary included.
type Form struct {
	names  []string
	values map[string]string
}

func NewForm() *Form {
	return &Form{values: map[string]string{}}
}

// Set adds or replaces a field; fields keep their first insertion order.
func (f *Form) Set(name, value string) *Form {
	if f.values == nil {
		f.values = map[string]string{}
	}
	if _, ok := f.values[name]; !ok {
		f.names = append(f.names, name)
	}
	f.values[name] = value
	return f
}

func (f *Form) Get(name string) string { return f.values[name] }

// Fields returns a copy of the field set.
func (f *Form) Fields() map[string]string {
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

func (f *Form) encode() ([]byte, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, name := range f.names {
		if err := w.WriteField(name, f.values[name]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
