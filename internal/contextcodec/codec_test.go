package contextcodec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casaflow/chatcore/internal/model"
)

func sampleWindow() model.ContextWindow {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return model.ContextWindow{
		ShortTerm: []model.Message{
			{
				ID:        "msg-1",
				ThreadID:  "thr-1",
				Content:   "The dishwasher in unit #A123 is leaking again",
				Role:      model.RoleUser,
				CreatedAt: created,
				UpdatedAt: created,
			},
			{
				ID:        "msg-2",
				ThreadID:  "thr-1",
				Content:   "I'll file a maintenance request for that.",
				Role:      model.RoleAssistant,
				CreatedAt: created.Add(time.Second),
				UpdatedAt: created.Add(time.Second),
			},
		},
		LongTerm: []model.ContextItem{
			{
				Key:   model.KeyPropertyDetails,
				Value: "unit #A123",
				Metadata: model.ContextItemMetadata{
					Source:    "msg-1",
					Timestamp: created,
				},
			},
		},
		Metadata: map[string]interface{}{"lang": "en"},
		Summary:  "Property: unit #A123",
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	w := sampleWindow()

	ser, err := Serialize(w)
	require.NoError(t, err)

	got, err := Deserialize(ser)
	require.NoError(t, err)

	require.Equal(t, w.Summary, got.Summary)
	require.Equal(t, w.Metadata, got.Metadata)
	require.Equal(t, w.LongTerm, got.LongTerm)
	require.Len(t, got.ShortTerm, len(w.ShortTerm))
	for i := range w.ShortTerm {
		require.Equal(t, w.ShortTerm[i].ID, got.ShortTerm[i].ID)
		require.Equal(t, w.ShortTerm[i].Content, got.ShortTerm[i].Content)
		require.Equal(t, w.ShortTerm[i].Role, got.ShortTerm[i].Role)
		require.True(t, w.ShortTerm[i].CreatedAt.Equal(got.ShortTerm[i].CreatedAt))
	}
}

func TestSerialize_EmptyWindowDefaults(t *testing.T) {
	ser, err := Serialize(model.ContextWindow{})
	require.NoError(t, err)
	require.Equal(t, "[]", ser.ShortTerm)
	require.Equal(t, "[]", ser.LongTerm)
	require.NotNil(t, ser.Metadata)
	require.Equal(t, "", ser.Summary)
}

func TestDeserialize_MalformedBlobIsFatal(t *testing.T) {
	cases := []struct {
		name string
		ser  SerializedContext
	}{
		{"bad shortTerm", SerializedContext{ShortTerm: "{not json", LongTerm: "[]"}},
		{"bad longTerm", SerializedContext{ShortTerm: "[]", LongTerm: "oops"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Deserialize(&c.ser)
			require.Error(t, err)
			require.True(t, model.IsSerialization(err), "expected SerializationError, got %v", err)
		})
	}
}

func TestValidate_RejectsBadShapes(t *testing.T) {
	base := sampleWindow()

	t.Run("unknown role", func(t *testing.T) {
		w := base
		w.ShortTerm = []model.Message{{ID: "m", Role: model.Role("moderator")}}
		err := Validate(w)
		require.True(t, model.IsInvalidContext(err), "got %v", err)
	})

	t.Run("unknown key", func(t *testing.T) {
		w := base
		w.LongTerm = []model.ContextItem{{Key: model.ContextKey("favorite_color"), Value: "blue"}}
		err := Validate(w)
		require.True(t, model.IsInvalidContext(err), "got %v", err)
	})

	t.Run("empty value", func(t *testing.T) {
		w := base
		w.LongTerm = []model.ContextItem{{Key: model.KeyImportantDates, Value: ""}}
		err := Validate(w)
		require.True(t, model.IsInvalidContext(err), "got %v", err)
	})

	t.Run("duplicate key", func(t *testing.T) {
		w := base
		w.LongTerm = []model.ContextItem{
			{Key: model.KeyPropertyDetails, Value: "a"},
			{Key: model.KeyPropertyDetails, Value: "b"},
		}
		err := Validate(w)
		require.True(t, model.IsInvalidContext(err), "got %v", err)
	})
}

func TestMigrate_FillsDefaults(t *testing.T) {
	ser, err := Migrate(model.ContextWindow{Summary: "carried over"})
	require.NoError(t, err)
	require.Equal(t, "[]", ser.ShortTerm)
	require.Equal(t, "[]", ser.LongTerm)
	require.NotNil(t, ser.Metadata)
	require.Equal(t, "carried over", ser.Summary)
}

func TestEncodeDecode(t *testing.T) {
	ser, err := Serialize(sampleWindow())
	require.NoError(t, err)

	raw, err := Encode(ser)
	require.NoError(t, err)

	back, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, ser, back)

	_, err = Decode([]byte("not json"))
	require.True(t, model.IsSerialization(err), "got %v", err)
}
