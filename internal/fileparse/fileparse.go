// Package fileparse extracts plain text from files attached in the studio.
package fileparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Kind is the extraction route chosen for a file.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPDF
	KindWord
	KindText
)

// UnsupportedMessage is reported for files no extractor handles.
const UnsupportedMessage = "Unsupported file type for text extraction"

// ErrInvalidBase64 is returned when an encoded payload cannot be decoded.
var ErrInvalidBase64 = errors.New("invalid base64 data")

// Detect picks the extractor from the content type, falling back to the file extension.
func Detect(filename, contentType string) Kind {
	ct := strings.ToLower(contentType)
	ext := strings.ToLower(path.Ext(filename))

	switch {
	case strings.Contains(ct, "pdf") || ext == ".pdf":
		return KindPDF
	case strings.Contains(ct, "msword") || strings.Contains(ct, "wordprocessingml") ||
		ext == ".doc" || ext == ".docx":
		return KindWord
	case strings.HasPrefix(ct, "text/") || ext == ".txt" || ext == ".md":
		return KindText
	}
	return KindUnsupported
}

// Extract returns the text of data. Extraction failures are reported inline
// in the returned text rather than as an error. ok is false for unsupported kinds.
func Extract(kind Kind, data []byte) (text string, ok bool) {
	switch kind {
	case KindPDF:
		t, err := PDFText(data)
		if err != nil {
			return fmt.Sprintf("[Error extracting PDF text: %v]", err), true
		}
		return t, true
	case KindWord:
		t, err := DocxText(data)
		if err != nil {
			return fmt.Sprintf("[Error extracting Word text: %v]", err), true
		}
		return t, true
	case KindText:
		return strings.ToValidUTF8(string(data), "�"), true
	}
	return "", false
}

// UploadResult is the response to a multipart upload.
type UploadResult struct {
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	Text        *string `json:"text"`
	Base64      *string `json:"base64"`
}

// ParseUpload extracts text from an uploaded file. Unsupported files are
// returned base64-encoded so the client can attach them as-is.
func ParseUpload(filename, contentType string, data []byte) UploadResult {
	if filename == "" {
		filename = "unknown"
	}
	result := UploadResult{Filename: filename, ContentType: contentType}

	text, ok := Extract(Detect(filename, contentType), data)
	if !ok {
		encoded := base64.StdEncoding.EncodeToString(data)
		result.Base64 = &encoded
		return result
	}
	result.Text = &text
	return result
}

// Base64Result is the response to an encoded payload.
type Base64Result struct {
	Text     *string `json:"text"`
	Filename string  `json:"filename,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// ParseBase64 decodes data, which may carry a data URL prefix, and extracts its text.
func ParseBase64(data, filename, contentType string) (Base64Result, error) {
	if filename == "" {
		filename = "unknown"
	}
	if i := strings.Index(data, ","); i >= 0 {
		data = data[i+1:]
	}

	raw, err := decodeBase64(strings.TrimSpace(data))
	if err != nil {
		return Base64Result{}, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}

	text, ok := Extract(Detect(filename, contentType), raw)
	if !ok {
		return Base64Result{Error: UnsupportedMessage}, nil
	}
	return Base64Result{Text: &text, Filename: filename}, nil
}

func decodeBase64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	if alt, altErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); altErr == nil {
		return alt, nil
	}
	return nil, err
}

// PDFText returns the plain text of every page.
func PDFText(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
