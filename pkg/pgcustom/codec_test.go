package pgcustom

import (
	"bytes"
	"database/sql"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func testReader(t *testing.T, v Version, data []byte) *Reader {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), NewPrelude(v))
	require.NoError(t, err)
	return r
}

func TestInt_RoundTrip(t *testing.T) {
	values := []int{0, 1, -1, 5, -5, 255, 256, math.MaxInt32, math.MinInt32, math.MaxUint32, -math.MaxUint32}

	for _, v := range values {
		encoded, err := AppendInt(nil, v)
		require.NoError(t, err)
		require.Len(t, encoded, 1+IntSize)

		r := testReader(t, Version1_13_0, encoded)
		assert.Equal(t, v, r.readInt(), "value %d", v)
		assert.NoError(t, r.err)
	}
}

func TestInt_SignMagnitudeLayout(t *testing.T) {
	encoded, err := AppendInt(nil, -5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x05, 0x00, 0x00, 0x00}, encoded)

	encoded, err = AppendInt(nil, 0x01020304)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x04, 0x03, 0x02, 0x01}, encoded)
}

func TestInt_OutOfRange(t *testing.T) {
	_, err := AppendInt(nil, math.MaxUint32+1)
	assert.Error(t, err)
	_, err = AppendInt(nil, -math.MaxUint32-1)
	assert.Error(t, err)
}

func TestString_RoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		value sql.NullString
	}{
		{name: "null", value: sql.NullString{}},
		{name: "empty", value: str("")},
		{name: "ascii", value: str("abc")},
		{name: "multibyte", value: str("émoji 🎯")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := AppendString(nil, tc.value)
			require.NoError(t, err)

			r := testReader(t, Version1_14_0, encoded)
			decoded := r.readString()
			require.NoError(t, r.err)
			assert.Equal(t, tc.value, decoded)
		})
	}

	t.Run("null and empty carry no payload", func(t *testing.T) {
		null, _ := AppendString(nil, sql.NullString{})
		empty, _ := AppendString(nil, str(""))
		assert.Equal(t, []byte{1, 1, 0, 0, 0}, null)
		assert.Equal(t, []byte{0, 0, 0, 0, 0}, empty)
	})

	t.Run("length counts bytes", func(t *testing.T) {
		encoded, _ := AppendString(nil, str("é"))
		assert.Equal(t, []byte{0, 2, 0, 0, 0, 0xc3, 0xa9}, encoded)
	})
}

func TestStringArray_StopsAtNull(t *testing.T) {
	var buf []byte
	buf, _ = AppendString(buf, str("12"))
	buf, _ = AppendString(buf, str("7"))
	buf, _ = AppendString(buf, sql.NullString{})
	buf, _ = AppendString(buf, str("after"))

	r := testReader(t, Version1_13_0, buf)
	assert.Equal(t, []string{"12", "7"}, r.readStringArray())
	assert.Equal(t, str("after"), r.readString())
}

func TestOffset_Decode(t *testing.T) {
	t.Run("set carries value", func(t *testing.T) {
		data := []byte{byte(OffsetSet), 0x10, 0x27, 0, 0, 0, 0, 0, 0}
		r := testReader(t, Version1_13_0, data)
		assert.Equal(t, SetOffset(10000), r.readOffset())
	})

	t.Run("other flags consume the value bytes", func(t *testing.T) {
		data := []byte{byte(OffsetNotSet), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, byte(OffsetNoData), 0, 0, 0, 0, 0, 0, 0, 0}
		r := testReader(t, Version1_13_0, data)
		assert.Equal(t, Offset{Flag: OffsetNotSet}, r.readOffset())
		assert.Equal(t, Offset{Flag: OffsetNoData}, r.readOffset())
		assert.NoError(t, r.err)
	})

	t.Run("unknown flag is a format error", func(t *testing.T) {
		data := []byte{9, 0, 0, 0, 0, 0, 0, 0, 0}
		r := testReader(t, Version1_13_0, data)
		r.readOffset()
		var fe *FormatError
		assert.ErrorAs(t, r.err, &fe)
	})
}

func TestOffset_EncodeFlagDerivation(t *testing.T) {
	testCases := []struct {
		name    string
		offset  Offset
		hasData bool
		want    Offset
	}{
		{name: "value present", offset: SetOffset(42), hasData: true, want: SetOffset(42)},
		{name: "no value with data", offset: Offset{Flag: OffsetUnknown}, hasData: true, want: Offset{Flag: OffsetNotSet}},
		{name: "no value without data", offset: Offset{Flag: OffsetNotSet}, hasData: false, want: Offset{Flag: OffsetNoData}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := &encBuf{}
			b.offset(tc.offset, tc.hasData)
			require.NoError(t, b.err)
			require.Len(t, b.b, 1+OffsetSize)

			r := testReader(t, Version1_13_0, b.b)
			assert.Equal(t, tc.want, r.readOffset())
		})
	}
}

func TestPrelude_Validate(t *testing.T) {
	valid := NewPrelude(Version1_14_0)
	require.NoError(t, valid.Validate())
	require.NoError(t, NewPrelude(Version1_13_0).Validate())

	testCases := []struct {
		name   string
		mutate func(p *Prelude)
	}{
		{name: "bad magic", mutate: func(p *Prelude) { p.Magic = "PGDMX" }},
		{name: "patch release of 1.14", mutate: func(p *Prelude) { p.Version = [3]uint8{1, 14, 1} }},
		{name: "patch release of 1.13", mutate: func(p *Prelude) { p.Version = [3]uint8{1, 13, 1} }},
		{name: "older version", mutate: func(p *Prelude) { p.Version = [3]uint8{1, 12, 0} }},
		{name: "newer version", mutate: func(p *Prelude) { p.Version = [3]uint8{1, 15, 0} }},
		{name: "8 byte integers", mutate: func(p *Prelude) { p.IntSize = 8 }},
		{name: "4 byte offsets", mutate: func(p *Prelude) { p.OffsetSize = 4 }},
		{name: "tar format", mutate: func(p *Prelude) { p.Format = FormatTar }},
		{name: "directory format", mutate: func(p *Prelude) { p.Format = FormatDirectory }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			err := p.Validate()
			var fe *FormatError
			assert.ErrorAs(t, err, &fe)

			_, err = NewReader(bytes.NewReader(nil), p)
			assert.Error(t, err)
		})
	}
}

func TestPrelude_ReadWrite(t *testing.T) {
	p := NewPrelude(Version1_14_0)
	encoded := AppendPrelude(nil, p)
	assert.Equal(t, []byte{'P', 'G', 'D', 'M', 'P', 1, 14, 0, 4, 8, 1}, encoded)

	decoded, err := ReadPrelude(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	_, err = ReadPrelude(bytes.NewReader(encoded[:7]))
	var te *TruncationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, PreludeSize, te.Want)
	assert.Equal(t, 7, te.Got)
}

func syntheticHead(n int) *Head {
	h := &Head{
		Compression:   0,
		Sec:           12,
		Min:           34,
		Hour:          5,
		Mday:          17,
		Month:         1,
		Year:          2024,
		IsDST:         0,
		DBName:        str("app"),
		RemoteVersion: str("14.9"),
		PgDumpVersion: sql.NullString{},
	}
	for i := 0; i < n; i++ {
		dumpID := 100 + i
		entry := &TocEntry{
			DumpID:     dumpID,
			DataDumper: i % 2,
			TableOID:   str("1259"),
			OID:        str("16384"),
			Tag:        str("table_" + string(rune('a'+i))),
			Desc:       str("TABLE DATA"),
			Section:    SectionData,
			Defn:       str(""),
			DropStmt:   str(""),
			CopyStmt:   str("COPY public.t (id, name) FROM stdin;\n"),
			Namespace:  str("public"),
			Tablespace: sql.NullString{},
			TableAM:    str("heap"),
			Owner:      str("postgres"),
			WithOIDs:   str("false"),
			Deps:       []string{"12", "99"},
		}
		if entry.HasData() {
			entry.Offset = SetOffset(int64(1000 * (i + 1)))
		} else {
			entry.Offset = Offset{Flag: OffsetNoData}
		}
		h.Entries = append(h.Entries, entry)
	}
	h.TOCCount = len(h.Entries)
	return h
}

func TestHeader_RoundTrip(t *testing.T) {
	for _, v := range []Version{Version1_13_0, Version1_14_0} {
		t.Run(v.String(), func(t *testing.T) {
			prelude := NewPrelude(v)
			head := syntheticHead(5)
			if !v.hasTableAM() {
				for _, e := range head.Entries {
					e.TableAM = sql.NullString{}
				}
			}

			enc, err := NewEncoder(prelude)
			require.NoError(t, err)
			encoded, err := enc.EncodeHeader(prelude, head)
			require.NoError(t, err)

			in := bytes.NewReader(encoded)
			decodedPrelude, err := ReadPrelude(in)
			require.NoError(t, err)
			assert.Equal(t, prelude, decodedPrelude)

			r, err := NewReader(in, decodedPrelude)
			require.NoError(t, err)
			decoded, err := r.ReadHead()
			require.NoError(t, err)
			assert.Equal(t, head, decoded)
			assert.Zero(t, in.Len(), "header should be fully consumed")
		})
	}
}

func TestHeader_TableAMOnlyInLaterVersion(t *testing.T) {
	head := syntheticHead(1)
	head.Entries[0].TableAM = str("heap")

	encode := func(v Version) []byte {
		p := NewPrelude(v)
		enc, err := NewEncoder(p)
		require.NoError(t, err)
		out, err := enc.EncodeHeader(p, head)
		require.NoError(t, err)
		return out
	}

	older := encode(Version1_13_0)
	newer := encode(Version1_14_0)
	assert.Equal(t, len(older)+1+IntSize+len("heap"), len(newer))

	r := testReader(t, Version1_13_0, older[PreludeSize:])
	decoded, err := r.ReadHead()
	require.NoError(t, err)
	assert.False(t, decoded.Entries[0].TableAM.Valid)
}

func TestHeader_CountMismatch(t *testing.T) {
	head := syntheticHead(2)
	head.TOCCount = 3
	enc, err := NewEncoder(NewPrelude(Version1_14_0))
	require.NoError(t, err)
	_, err = enc.EncodeHeader(NewPrelude(Version1_14_0), head)
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestHeader_NonNumericDependency(t *testing.T) {
	head := syntheticHead(1)
	head.Entries[0].Deps = []string{"12", "abc"}
	p := NewPrelude(Version1_14_0)
	enc, err := NewEncoder(p)
	require.NoError(t, err)
	encoded, err := enc.EncodeHeader(p, head)
	require.NoError(t, err)

	r := testReader(t, Version1_14_0, encoded[PreludeSize:])
	_, err = r.ReadHead()
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestHeader_Truncated(t *testing.T) {
	p := NewPrelude(Version1_14_0)
	enc, err := NewEncoder(p)
	require.NoError(t, err)
	encoded, err := enc.EncodeHeader(p, syntheticHead(3))
	require.NoError(t, err)

	body := encoded[PreludeSize:]
	for _, cut := range []int{0, 20, len(body) / 2, len(body) - 1} {
		r := testReader(t, Version1_14_0, body[:cut])
		_, err := r.ReadHead()
		var te *TruncationError
		assert.True(t, errors.As(err, &te), "cut at %d: %v", cut, err)
	}
}

func TestHead_DataEntry(t *testing.T) {
	head := syntheticHead(4)
	assert.Equal(t, 2, head.DataEntryCount())

	entry, err := head.DataEntry(101)
	require.NoError(t, err)
	assert.Equal(t, 101, entry.DumpID)

	var re *ReferenceError
	_, err = head.DataEntry(100)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 100, re.DumpID)

	_, err = head.DataEntry(7)
	assert.ErrorAs(t, err, &re)
}

func TestHead_ResetForRewrite(t *testing.T) {
	head := syntheticHead(3)
	head.ResetForRewrite(MaxCompression)
	assert.Equal(t, 9, head.Compression)
	for _, e := range head.Entries {
		assert.Equal(t, OffsetNotSet, e.Offset.Flag)
	}
}
