package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type createGrantPayload struct {
	Kind      string `json:"kind" validate:"required"`
	SubjectID string `json:"subject_id" validate:"required,uuid4"`
	ObjectID  string `json:"object_id" validate:"required"`
}

func TestValidateStructReportsFieldNamesFromJSONTags(t *testing.T) {
	err := ValidateStruct(createGrantPayload{Kind: "document-review"})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)

	fields := make([]string, 0, len(failures))
	for _, f := range failures {
		fields = append(fields, f.Field)
	}
	require.Contains(t, fields, "subject_id")
	require.Contains(t, fields, "object_id")
}

func TestValidateStructPassesValidPayload(t *testing.T) {
	err := ValidateStruct(createGrantPayload{
		Kind:      "document-review",
		SubjectID: "7d444840-9dc0-41d1-b245-5ffdce74fad2",
		ObjectID:  "doc-1",
	})
	require.NoError(t, err)
}
