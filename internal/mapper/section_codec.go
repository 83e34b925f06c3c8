package mapper

import (
	"encoding/json"
	"fmt"

	"section-collab-be/internal/entity"

	"gorm.io/datatypes"
)

// CurrentSectionSchema is the layout every write uses.
//
//	1: legacy free-form blobs, [{"id": ..., "name"|"title": ..., "content": <any>, "editable"?: bool}]
//	2: typed records, [{"id", "title", "content", "editable"}]
const CurrentSectionSchema = 2

type sectionRecord struct {
	Id       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Editable bool   `json:"editable"`
}

// sectionMigration upgrades a payload from schema n to n+1.
type sectionMigration func(raw []byte) ([]byte, error)

var sectionMigrations = map[int]sectionMigration{
	1: migrateSectionsV1ToV2,
}

func EncodeSections(sections []entity.Section) (datatypes.JSON, int, error) {
	records := make([]sectionRecord, len(sections))
	for i, s := range sections {
		records[i] = sectionRecord{Id: s.Id, Title: s.Title, Content: s.Content, Editable: s.Editable}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, 0, err
	}
	return datatypes.JSON(raw), CurrentSectionSchema, nil
}

func DecodeSections(schema int, raw []byte) ([]entity.Section, error) {
	if schema <= 0 {
		// rows written before the schema column existed
		schema = 1
	}
	if schema > CurrentSectionSchema {
		return nil, fmt.Errorf("section schema %d is newer than supported %d", schema, CurrentSectionSchema)
	}

	for schema < CurrentSectionSchema {
		migrate, ok := sectionMigrations[schema]
		if !ok {
			return nil, fmt.Errorf("no migration registered from section schema %d", schema)
		}
		upgraded, err := migrate(raw)
		if err != nil {
			return nil, fmt.Errorf("migrate section schema %d: %w", schema, err)
		}
		raw = upgraded
		schema++
	}

	var records []sectionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	sections := make([]entity.Section, len(records))
	for i, r := range records {
		sections[i] = entity.Section{Id: r.Id, Title: r.Title, Content: r.Content, Editable: r.Editable}
	}
	return sections, nil
}

func migrateSectionsV1ToV2(raw []byte) ([]byte, error) {
	var blobs []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &blobs); err != nil {
		return nil, err
	}

	records := make([]sectionRecord, 0, len(blobs))
	for i, blob := range blobs {
		var rec sectionRecord
		if err := json.Unmarshal(blob["id"], &rec.Id); err != nil || rec.Id == "" {
			return nil, fmt.Errorf("section %d has no id", i)
		}

		titleRaw, ok := blob["title"]
		if !ok {
			titleRaw = blob["name"]
		}
		rec.Title = looseString(titleRaw)
		rec.Content = looseString(blob["content"])

		rec.Editable = true
		if editableRaw, ok := blob["editable"]; ok {
			if err := json.Unmarshal(editableRaw, &rec.Editable); err != nil {
				return nil, fmt.Errorf("section %q: editable: %w", rec.Id, err)
			}
		}
		records = append(records, rec)
	}
	return json.Marshal(records)
}

// looseString accepts any JSON value: strings are unquoted, null is empty and
// anything else keeps its JSON text.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
