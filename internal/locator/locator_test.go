package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		kind     Kind
		recordID string
		fileName string
		reason   string
	}{
		{name: "empty", raw: "", kind: Absent},
		{name: "whitespace", raw: "   \n", kind: Absent},
		{
			name:     "plain",
			raw:      "https://host/records/abc123/files/demo.aiida",
			kind:     Valid,
			recordID: "abc123",
			fileName: "demo.aiida",
		},
		{
			name:     "content suffix",
			raw:      "https://host/records/abc123/files/demo.aiida/content",
			kind:     Valid,
			recordID: "abc123",
			fileName: "demo.aiida",
		},
		{
			name:     "content suffix trailing slash",
			raw:      "https://host/records/abc123/files/demo.aiida/content/",
			kind:     Valid,
			recordID: "abc123",
			fileName: "demo.aiida",
		},
		{
			name:     "percent encoded name",
			raw:      "https://host/records/x9/files/my%20data%2Bset.aiida",
			kind:     Valid,
			recordID: "x9",
			fileName: "my data+set.aiida",
		},
		{
			name:     "upper case stem",
			raw:      "https://host/records/x9/files/DEMO.aiida",
			kind:     Valid,
			recordID: "x9",
			fileName: "DEMO.aiida",
		},
		{name: "upper case extension", raw: "https://host/records/x9/files/DEMO.AIIDA", kind: Invalid, reason: ".aiida"},
		{name: "missing records", raw: "https://host/files/demo.aiida", kind: Invalid, reason: "/records/"},
		{name: "missing files", raw: "https://host/records/abc123/demo.aiida", kind: Invalid, reason: "/files/"},
		{name: "wrong extension", raw: "https://host/records/abc123/files/demo.zip", kind: Invalid, reason: ".aiida"},
		{name: "bare extension", raw: "https://host/records/abc123/files/.aiida", kind: Invalid, reason: ".aiida"},
		{name: "empty record id", raw: "https://host/records//files/demo.aiida", kind: Invalid, reason: "record identifier"},
		{name: "bad escape", raw: "https://host/records/abc/files/demo%zz.aiida", kind: Invalid, reason: "malformed"},
		{name: "not a url", raw: "demo.aiida", kind: Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.raw, got.Raw)
			assert.Equal(t, tt.recordID, got.RecordID)
			assert.Equal(t, tt.fileName, got.FileName)
			if tt.reason != "" {
				assert.Contains(t, got.Reason, tt.reason)
			}
			if got.Kind != Valid {
				assert.Empty(t, got.Normalized)
			}
		})
	}
}

func TestParseIsIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"https://host/records/abc123/files/demo.aiida",
		"https://host/records/abc123/files/demo.aiida/content",
		"  https://host/records/abc123/files/demo.aiida/content//  ",
		"https://host/records/abc/files/a%20b.aiida",
		"https://host/records/abc/files/demo.zip",
	}
	for _, raw := range inputs {
		once := Parse(raw)
		if !once.IsValid() {
			continue
		}
		twice := Parse(once.Normalized)
		assert.Equal(t, once.Normalized, twice.Normalized, raw)
		assert.Equal(t, once.RecordID, twice.RecordID, raw)
		assert.Equal(t, once.FileName, twice.FileName, raw)
		assert.Equal(t, once.Kind, twice.Kind, raw)
	}
}

func TestContentSuffixIsAlias(t *testing.T) {
	plain := Parse("https://host/records/abc123/files/demo.aiida")
	content := Parse("https://host/records/abc123/files/demo.aiida/content")

	require.True(t, plain.IsValid())
	require.True(t, content.IsValid())
	assert.Equal(t, plain.RecordID, content.RecordID)
	assert.Equal(t, plain.FileName, content.FileName)
	assert.True(t, plain.Equal(content))
}

func TestEqual(t *testing.T) {
	a := Parse("https://host/records/a/files/one.aiida")
	b := Parse("https://host/records/b/files/two.aiida")

	assert.False(t, a.Equal(b))
	assert.False(t, Parse("").Equal(Parse("")))
	assert.False(t, Parse("nope").Equal(Parse("nope")))
}

func TestStemAndHost(t *testing.T) {
	l := Parse("https://archive.example.org/records/abc/files/demo.set.aiida/content")
	require.True(t, l.IsValid())
	assert.Equal(t, "demo.set", l.Stem())
	assert.Equal(t, "https://archive.example.org", l.Host())

	assert.Empty(t, Parse("").Stem())
	assert.Empty(t, Parse("/records/abc/files/x.aiida").Host())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "valid", Valid.String())
}
