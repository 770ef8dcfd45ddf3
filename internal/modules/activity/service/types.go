package service

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// Closed set of activity types. Anything else is rejected before it ever
// reaches the log store.
const (
	TypeFileUploaded   = "file_uploaded"
	TypeCutCreated     = "cut_created"
	TypeCutMoved       = "cut_moved"
	TypeVibeCreated    = "vibe_created"
	TypeProjectCreated = "project_created"
	TypeMemberAdded    = "member_added"
	TypeCommentAdded   = "comment_added"
	TypeLyricsUpdated  = "lyrics_updated"
	TypeFileShared     = "file_shared"
)

// payloadSpec pins the metadata shape for one activity type: which keys must
// be present, and how to render a one-line description for search indexing
// and push payloads. Dispatch is by lookup table, not reflection.
type payloadSpec struct {
	requiredKeys []string
	describe     func(meta datatypes.JSONMap) string
}

var payloadSpecs = map[string]payloadSpec{
	TypeFileUploaded: {
		requiredKeys: []string{"file_name"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("File %s was uploaded", metaString(m, "file_name"))
		},
	},
	TypeCutCreated: {
		requiredKeys: []string{"cut_name"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("New cut %s was created", metaString(m, "cut_name"))
		},
	},
	TypeCutMoved: {
		requiredKeys: []string{"cut_name", "from_vibe", "to_vibe"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("Cut %s was moved from %s to %s",
				metaString(m, "cut_name"), metaString(m, "from_vibe"), metaString(m, "to_vibe"))
		},
	},
	TypeVibeCreated: {
		requiredKeys: []string{"vibe_name"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("New vibe %s was created", metaString(m, "vibe_name"))
		},
	},
	TypeProjectCreated: {
		requiredKeys: []string{"project_name"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("Project %s was created", metaString(m, "project_name"))
		},
	},
	TypeMemberAdded: {
		requiredKeys: []string{"member_name"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("%s joined the project", metaString(m, "member_name"))
		},
	},
	TypeCommentAdded: {
		requiredKeys: []string{"comment_preview"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("New comment: %s", metaString(m, "comment_preview"))
		},
	},
	TypeLyricsUpdated: {
		requiredKeys: []string{"cut_name"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("Lyrics updated on %s", metaString(m, "cut_name"))
		},
	},
	TypeFileShared: {
		requiredKeys: []string{"file_name"},
		describe: func(m datatypes.JSONMap) string {
			return fmt.Sprintf("File %s was shared", metaString(m, "file_name"))
		},
	},
}

func IsValidType(activityType string) bool {
	_, ok := payloadSpecs[activityType]
	return ok
}

// ValidateMetadata rejects payloads missing the keys the type requires.
func ValidateMetadata(activityType string, meta datatypes.JSONMap) error {
	spec, ok := payloadSpecs[activityType]
	if !ok {
		return fmt.Errorf("unknown activity type: %s", activityType)
	}

	var missing []string
	for _, key := range spec.requiredKeys {
		if metaString(meta, key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("activity type %s requires metadata keys: %s", activityType, strings.Join(missing, ", "))
	}
	return nil
}

// Describe renders the one-line summary for an activity. Used for the search
// index and push payloads only; clients render their own feed entries.
func Describe(activityType string, meta datatypes.JSONMap) string {
	spec, ok := payloadSpecs[activityType]
	if !ok {
		return ""
	}
	return spec.describe(meta)
}

func metaString(meta datatypes.JSONMap, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
