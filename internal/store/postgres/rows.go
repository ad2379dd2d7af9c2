package postgres

import (
	"encoding/json"
	"time"

	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/dogmaerr"
)

// ProjectRow is the persisted row shape of a project, per spec.md §3's
// Project type.
type ProjectRow struct {
	Name      string
	CreatedAt time.Time
	RemovedAt *time.Time
	PurgedAt  *time.Time
}

// RepositoryRow is the persisted row shape of a repository, excluding its
// commit chain (held in the commits table).
type RepositoryRow struct {
	Project      string
	Name         string
	CreatedAt    time.Time
	RemovedAt    *time.Time
	PurgedAt     *time.Time
	HeadRevision int32
}

// CommitRow is one persisted commit, its change-set stored as a JSONB
// array of changeDTO.
type CommitRow struct {
	Project         string
	Repository      string
	Revision        int32
	AuthorName      string
	AuthorEmail     string
	TimestampMillis int64
	Summary         string
	Detail          string
	Markup          string
	Diff            []byte // JSON-encoded []changeDTO
}

// changeDTO is the JSON-serializable mirror of content.Change, since
// content.Change carries raw JSON payloads ([]byte) that need an explicit
// wire shape to round-trip through JSONB cleanly.
type changeDTO struct {
	Type     string             `json:"type"`
	Path     string             `json:"path"`
	JSON     json.RawMessage    `json:"json,omitempty"`
	Text     string             `json:"text,omitempty"`
	NewPath  string             `json:"newPath,omitempty"`
	Patch    []jsonPatchOpDTO   `json:"patch,omitempty"`
	Expected string             `json:"expected,omitempty"`
	Unified  string             `json:"unified,omitempty"`
}

type jsonPatchOpDTO struct {
	Op      string          `json:"op"`
	Pointer string          `json:"pointer"`
	Value   json.RawMessage `json:"value,omitempty"`
}

var changeTypeNames = map[content.ChangeType]string{
	content.ChangeUpsertJSON: "UPSERT_JSON",
	content.ChangeUpsertText: "UPSERT_TEXT",
	content.ChangeRemove:     "REMOVE",
	content.ChangeRename:     "RENAME",
	content.ChangeJSONPatch:  "JSON_PATCH",
	content.ChangeTextPatch:  "TEXT_PATCH",
}

var changeTypeValues = map[string]content.ChangeType{
	"UPSERT_JSON": content.ChangeUpsertJSON,
	"UPSERT_TEXT": content.ChangeUpsertText,
	"REMOVE":      content.ChangeRemove,
	"RENAME":      content.ChangeRename,
	"JSON_PATCH":  content.ChangeJSONPatch,
	"TEXT_PATCH":  content.ChangeTextPatch,
}

func encodeChanges(changes []content.Change) ([]byte, error) {
	dtos := make([]changeDTO, 0, len(changes))

	for _, ch := range changes {
		dto := changeDTO{
			Type:     changeTypeNames[ch.Type],
			Path:     ch.Path,
			Text:     ch.Text,
			NewPath:  ch.NewPath,
			Expected: ch.Expected,
			Unified:  ch.Unified,
		}

		if ch.JSON != nil {
			dto.JSON = json.RawMessage(ch.JSON)
		}

		for _, op := range ch.Patch {
			opDTO := jsonPatchOpDTO{Op: op.Op, Pointer: op.Pointer}
			if op.Value != nil {
				opDTO.Value = json.RawMessage(op.Value)
			}

			dto.Patch = append(dto.Patch, opDTO)
		}

		dtos = append(dtos, dto)
	}

	raw, err := json.Marshal(dtos)
	if err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "encode change-set")
	}

	return raw, nil
}

func decodeChanges(raw []byte) ([]content.Change, error) {
	var dtos []changeDTO
	if err := json.Unmarshal(raw, &dtos); err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "decode change-set")
	}

	changes := make([]content.Change, 0, len(dtos))

	for _, dto := range dtos {
		ch := content.Change{
			Type:     changeTypeValues[dto.Type],
			Path:     dto.Path,
			Text:     dto.Text,
			NewPath:  dto.NewPath,
			Expected: dto.Expected,
			Unified:  dto.Unified,
		}

		if dto.JSON != nil {
			ch.JSON = []byte(dto.JSON)
		}

		for _, opDTO := range dto.Patch {
			op := content.JSONPatchOp{Op: opDTO.Op, Pointer: opDTO.Pointer}
			if opDTO.Value != nil {
				op.Value = []byte(opDTO.Value)
			}

			ch.Patch = append(ch.Patch, op)
		}

		changes = append(changes, ch)
	}

	return changes, nil
}
