package fileparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// DocxText returns the paragraphs of a .docx document joined by newlines.
func DocxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a docx archive: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("docx archive has no " + docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return paragraphs(rc)
}

// paragraphs walks WordprocessingML and collects w:t runs per w:p.
func paragraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		out    []string
		cur    strings.Builder
		inText bool
		inPara bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if inPara {
					out = append(out, cur.String())
				}
				inPara = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}

	return strings.TrimSpace(strings.Join(out, "\n")), nil
}
