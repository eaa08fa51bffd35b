package appliance

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Rails form conventions.
const (
	methodOverrideField = "_method"
	commitField         = "commit"
	utf8Field           = "utf8"
	utf8Marker          = "✓"
	commitCreate        = "Import"
	commitUpdate        = "Update"
)

// FormPayload is the caller-supplied input to BuildForm.
type FormPayload struct {
	FileDBID int

	// RecordID is the id used in the URL path (update and delete).
	RecordID string

	// FormRecordID is the id the form submits in its id field. It falls
	// back to RecordID when empty.
	FormRecordID string

	Token    string
	FileName string
	Content  []byte
}

// FormRequest is a fully built submission ready for Client.Send.
type FormRequest struct {
	Action      Action
	Kind        Kind
	Method      string
	Path        string
	Body        []byte
	ContentType string
	Header      http.Header
}

// BuildForm produces the exact submission the appliance expects for action
// on kind. The transport always POSTs; update and delete are expressed with
// the Rails _method override. The token travels as a form field, never a
// header. BuildForm is a pure function of its inputs.
func BuildForm(action Action, kind Kind, p FormPayload) (*FormRequest, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("appliance: build form: unknown kind %d", int(kind))
	}

	if p.Token == "" {
		return nil, errors.New("appliance: build form: missing security token")
	}

	if p.FileDBID <= 0 {
		return nil, fmt.Errorf("appliance: build form: invalid file database id %d", p.FileDBID)
	}

	switch action {
	case ActionCreate:
		if p.FileName == "" {
			return nil, errors.New("appliance: build form: create requires a file name")
		}

		return buildMultipart(action, kind, CollectionPath(p.FileDBID, kind), p, "", commitCreate)

	case ActionUpdate:
		if p.RecordID == "" {
			return nil, errors.New("appliance: build form: update requires a record id")
		}

		if p.FileName == "" {
			return nil, errors.New("appliance: build form: update requires a file name")
		}

		return buildMultipart(action, kind, RecordPath(p.FileDBID, kind, p.RecordID), p, "put", commitUpdate)

	case ActionDelete:
		if p.RecordID == "" {
			return nil, errors.New("appliance: build form: delete requires a record id")
		}

		return buildDelete(kind, p), nil

	default:
		return nil, fmt.Errorf("appliance: build form: unknown action %d", int(action))
	}
}

func buildMultipart(action Action, kind Kind, path string, p FormPayload, override, commit string) (*FormRequest, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	fields := [][2]string{{utf8Field, utf8Marker}}
	if override != "" {
		fields = append(fields, [2]string{methodOverrideField, override})
	}

	fields = append(fields, [2]string{tokenFieldName, p.Token})

	if action == ActionUpdate {
		id := p.FormRecordID
		if id == "" {
			id = p.RecordID
		}

		fields = append(fields, [2]string{kind.IDField(), id})
	}

	fields = append(fields, [2]string{kind.ContainerField(), strconv.Itoa(p.FileDBID)})

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("appliance: writing form field %s: %w", f[0], err)
		}
	}

	part, err := w.CreatePart(filePartHeader(kind.FileField(), p.FileName))
	if err != nil {
		return nil, fmt.Errorf("appliance: creating file part: %w", err)
	}

	if _, err := part.Write(p.Content); err != nil {
		return nil, fmt.Errorf("appliance: writing file part: %w", err)
	}

	if err := w.WriteField(commitField, commit); err != nil {
		return nil, fmt.Errorf("appliance: writing form field %s: %w", commitField, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("appliance: closing multipart body: %w", err)
	}

	return &FormRequest{
		Action:      action,
		Kind:        kind,
		Method:      http.MethodPost,
		Path:        path,
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
		Header:      http.Header{},
	}, nil
}

func buildDelete(kind Kind, p FormPayload) *FormRequest {
	form := url.Values{}
	form.Set(methodOverrideField, "delete")
	form.Set(tokenFieldName, p.Token)

	return &FormRequest{
		Action:      ActionDelete,
		Kind:        kind,
		Method:      http.MethodPost,
		Path:        RecordPath(p.FileDBID, kind, p.RecordID),
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		Header:      http.Header{},
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func filePartHeader(field, fileName string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filepath.Base(fileName))))
	h.Set("Content-Type", contentTypeFor(fileName))

	return h
}

func contentTypeFor(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return "text/csv"
	case ".txt", ".def", ".dm":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
