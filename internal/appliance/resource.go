package appliance

import (
	"fmt"
	"strings"
)

// Kind identifies one of the routeset file types the appliance manages.
type Kind int

// Routeset file kinds.
const (
	KindDefinition Kind = iota + 1
	KindDigitMap
)

// Kinds lists every kind in listing order.
func Kinds() []Kind {
	return []Kind{KindDefinition, KindDigitMap}
}

// kindInfo is the per-kind naming convention the appliance's Rails
// controllers expect. It is an external contract and must not drift.
type kindInfo struct {
	name         string
	title        string
	collection   string
	namespace    string
	sectionLabel string
}

var kindTable = map[Kind]kindInfo{
	KindDefinition: {
		name:         "definition",
		title:        "Definition File",
		collection:   "routesets_definitions",
		namespace:    "tbgw_routesets_definition",
		sectionLabel: "Routesets Definition:",
	},
	KindDigitMap: {
		name:         "digitmap",
		title:        "Digit Map File",
		collection:   "routesets_digitmaps",
		namespace:    "tbgw_routesets_digitmap",
		sectionLabel: "Routesets Digitmap:",
	},
}

func (k Kind) info() kindInfo {
	info, ok := kindTable[k]
	if !ok {
		panic(fmt.Sprintf("appliance: unknown kind %d", int(k)))
	}

	return info
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}

	return k.info().name
}

// Title is the human-readable kind name.
func (k Kind) Title() string { return k.info().title }

// Collection is the URL path segment for the kind, e.g. "routesets_digitmaps".
func (k Kind) Collection() string { return k.info().collection }

// Namespace is the Rails parameter namespace for form fields.
func (k Kind) Namespace() string { return k.info().namespace }

// SectionLabel is the heading that introduces the kind's table on the
// listing page.
func (k Kind) SectionLabel() string { return k.info().sectionLabel }

// FileField is the multipart field carrying the file upload.
func (k Kind) FileField() string { return k.Namespace() + "[file]" }

// IDField is the form field carrying the record id.
func (k Kind) IDField() string { return k.Namespace() + "[id]" }

// ContainerField is the form field carrying the owning file database id.
func (k Kind) ContainerField() string { return k.Namespace() + "[tbgw_files_db_id]" }

// ParseKind accepts the short names used on the command line and in batch
// manifests, as well as the collection names themselves.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "definition", "definitions", "df", "routesets_definitions":
		return KindDefinition, nil
	case "digitmap", "digitmaps", "digit-map", "dm", "routesets_digitmaps":
		return KindDigitMap, nil
	default:
		return 0, fmt.Errorf("unknown resource kind %q (want definition or digitmap)", s)
	}
}

// MarshalText encodes the kind by its short name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("appliance: cannot encode unknown kind %d", int(k))
	}

	return []byte(k.String()), nil
}

// UnmarshalText accepts anything ParseKind does.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}

	*k = parsed

	return nil
}

// Action is a state-changing operation on a record.
type Action int

// Write actions.
const (
	ActionCreate Action = iota + 1
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction parses "create", "update" or "delete".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create", "import", "":
		return ActionCreate, nil
	case "update", "put":
		return ActionUpdate, nil
	case "delete", "rm", "remove":
		return ActionDelete, nil
	default:
		return 0, fmt.Errorf("unknown action %q (want create, update or delete)", s)
	}
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts anything ParseAction does.
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// Resource describes one appliance-side record as it appeared on the most
// recent listing. Values are never cached beyond a single flow.
type Resource struct {
	Kind        Kind   `json:"kind"`
	RemoteID    string `json:"id"`
	DisplayName string `json:"name"`
	EditPath    string `json:"edit_path"`
	ExportPath  string `json:"export_path"`
	DeletePath  string `json:"delete_path"`
}

// ListingPath is the page listing every routeset file of a file database.
func ListingPath(db int) string {
	return fmt.Sprintf("/file_dbs/%d/edit", db)
}

// CollectionPath is the create endpoint for a kind.
func CollectionPath(db int, k Kind) string {
	return fmt.Sprintf("/file_dbs/%d/%s", db, k.Collection())
}

// NewPath is the blank create form for a kind.
func NewPath(db int, k Kind) string {
	return CollectionPath(db, k) + "/new"
}

// RecordPath is the update/delete endpoint for one record.
func RecordPath(db int, k Kind, id string) string {
	return CollectionPath(db, k) + "/" + id
}

// EditPath is the edit form for one record.
func EditPath(db int, k Kind, id string) string {
	return RecordPath(db, k, id) + "/edit"
}

// ExportPath returns the raw file content of one record.
func ExportPath(db int, k Kind, id string) string {
	return RecordPath(db, k, id) + "/export"
}

// newResource builds a descriptor with canonical paths.
func newResource(db int, k Kind, id, name string) Resource {
	return Resource{
		Kind:        k,
		RemoteID:    id,
		DisplayName: name,
		EditPath:    EditPath(db, k, id),
		ExportPath:  ExportPath(db, k, id),
		DeletePath:  RecordPath(db, k, id),
	}
}
