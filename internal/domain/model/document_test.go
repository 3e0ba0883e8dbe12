package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotEqual(t *testing.T) {
	absent := Absent[[]Record]()
	empty := Present([]Record{})
	one := Present([]Record{{"id": "1", "label": "Watch TV"}})

	assert.True(t, absent.Equal(Absent[[]Record]()))
	assert.False(t, absent.Equal(empty), "absent differs from present-but-empty")
	assert.True(t, empty.Equal(Present[[]Record](nil)))
	assert.True(t, one.Equal(Present([]Record{{"id": "1", "label": "Watch TV"}})))
	assert.False(t, one.Equal(Present([]Record{{"id": "1", "label": "Listen"}})))
}

func TestSnapshotEqual_OrderSensitive(t *testing.T) {
	a := Present([]Record{{"id": "1"}, {"id": "2"}})
	b := Present([]Record{{"id": "2"}, {"id": "1"}})
	assert.False(t, a.Equal(b))
}

func TestSnapshotEqual_NestedValues(t *testing.T) {
	a := Present(Record{"id": "1", "fixit": map[string]any{"dev": []any{"a", 1.0}}})
	b := Present(Record{"id": "1", "fixit": map[string]any{"dev": []any{"a", 1.0}}})
	c := Present(Record{"id": "1", "fixit": map[string]any{"dev": []any{"a", 2.0}}})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "42", Record{"id": "42"}.ID())
	assert.Equal(t, "42", Record{"id": 42.0}.ID())
	assert.Equal(t, "", Record{}.ID())
	assert.Equal(t, "Watch TV", Record{"label": "Watch TV"}.Label())
}

func TestRecords(t *testing.T) {
	doc := []any{map[string]any{"id": "1"}, "junk", map[string]any{"id": "2"}}
	recs := Records(doc)
	assert.Len(t, recs, 2)
	assert.Equal(t, "2", recs[1].ID())
	assert.Nil(t, Records("not a list"))
}

func TestResult(t *testing.T) {
	data, err := Result(Success{Data: map[string]any{"ok": true}})
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, data)

	boom := errors.New("boom")
	_, err = Result(Failure{Err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	assert.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, "1m30s", durationString(d))
	assert.NoError(t, d.UnmarshalJSON([]byte(`5`)))
	assert.Equal(t, "5s", durationString(d))
	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))

	b, err := Duration(0).MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"0s"`, string(b))
}

func durationString(d Duration) string {
	b, _ := d.MarshalJSON()
	return string(b[1 : len(b)-1])
}

func TestButtonAction(t *testing.T) {
	assert.JSONEq(t, `{"command":"VolumeUp","type":"IRCommand","deviceId":"123"}`, ButtonAction("123", "VolumeUp"))
}

func TestCloneIsDeep(t *testing.T) {
	orig := []Record{{"id": "1", "fixit": map[string]any{"dev": []any{"a"}}}}
	cp := CloneRecords(orig)
	cp[0]["id"] = "2"
	cp[0]["fixit"].(map[string]any)["dev"].([]any)[0] = "b"

	assert.Equal(t, "1", orig[0].ID())
	assert.Equal(t, []any{"a"}, orig[0]["fixit"].(map[string]any)["dev"])

	snap := Present(orig)
	assert.True(t, snap.Equal(snap.Clone()))
	assert.Nil(t, CloneRecords(nil))
	assert.False(t, Absent[Record]().Clone().Present())
}
