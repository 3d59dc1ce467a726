// Package vocab loads the character vocabulary shared by the models: a CSV
// of id,char,freq rows with the special tokens embedded as ordinary rows.
package vocab

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	PadToken   = "<pad>"
	SOSToken   = "<sos>"
	EOSToken   = "<eos>"
	BlankToken = "<blank>"
)

// Vocabulary maps between text units and class ids. Units keep the insertion
// order of the CSV so listings and round-trips are stable.
type Vocabulary struct {
	units *orderedmap.OrderedMap[string, int32]
	ids   map[int32]string
	freqs map[int32]int

	pad, sos, eos int32
	blank         int32
	hasBlank      bool
}

func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return v, nil
}

// Parse reads id,char,freq rows. A header row and a UTF-8 BOM are tolerated;
// the freq column is optional. The pad, sos and eos tokens must be present,
// blank may be.
func Parse(r io.Reader) (*Vocabulary, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	v := &Vocabulary{
		units: orderedmap.New[string, int32](),
		ids:   make(map[int32]string),
		freqs: make(map[int32]int),
	}

	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if row == 1 {
			record[0] = strings.TrimPrefix(record[0], "\ufeff")
			if record[0] == "id" {
				continue
			}
		}

		if len(record) < 2 {
			return nil, fmt.Errorf("row %d has %d fields, want at least 2", row, len(record))
		}

		id64, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("row %d id %q: %w", row, record[0], err)
		}

		id, unit := int32(id64), record[1]
		if _, ok := v.ids[id]; ok {
			return nil, fmt.Errorf("row %d reuses id %d", row, id)
		}
		if _, ok := v.units.Get(unit); ok {
			return nil, fmt.Errorf("row %d reuses unit %q", row, unit)
		}

		v.units.Set(unit, id)
		v.ids[id] = unit

		if len(record) > 2 {
			if freq, err := strconv.Atoi(strings.TrimSpace(record[2])); err == nil {
				v.freqs[id] = freq
			}
		}
	}

	for _, special := range []struct {
		unit string
		id   *int32
	}{
		{PadToken, &v.pad},
		{SOSToken, &v.sos},
		{EOSToken, &v.eos},
	} {
		id, ok := v.units.Get(special.unit)
		if !ok {
			return nil, fmt.Errorf("vocabulary has no %s token", special.unit)
		}
		*special.id = id
	}

	if id, ok := v.units.Get(BlankToken); ok {
		v.blank, v.hasBlank = id, true
	}

	return v, nil
}

func (v *Vocabulary) Len() int {
	return v.units.Len()
}

func (v *Vocabulary) PadID() int32 { return v.pad }
func (v *Vocabulary) SOSID() int32 { return v.sos }
func (v *Vocabulary) EOSID() int32 { return v.eos }

// BlankID returns the CTC blank id, if the vocabulary defines one.
func (v *Vocabulary) BlankID() (int32, bool) {
	return v.blank, v.hasBlank
}

func (v *Vocabulary) ID(unit string) (int32, bool) {
	return v.units.Get(unit)
}

func (v *Vocabulary) Unit(id int32) (string, bool) {
	unit, ok := v.ids[id]
	return unit, ok
}

// Frequency returns the corpus count of a unit, 0 when the CSV had none.
func (v *Vocabulary) Frequency(id int32) int {
	return v.freqs[id]
}

// Units iterates units and their ids in CSV order.
func (v *Vocabulary) Units() iter.Seq2[string, int32] {
	return func(yield func(string, int32) bool) {
		for pair := v.units.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// LabelToString renders decoded ids as text: it stops at the first eos and
// skips pad, sos, blank and unknown ids.
func (v *Vocabulary) LabelToString(ids []int32) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == v.eos {
			break
		}
		if id == v.pad || id == v.sos || (v.hasBlank && id == v.blank) {
			continue
		}

		if unit, ok := v.ids[id]; ok {
			sb.WriteString(unit)
		}
	}

	return sb.String()
}

// StringToLabel maps a transcript to ids, one per rune.
func (v *Vocabulary) StringToLabel(s string) ([]int32, error) {
	ids := make([]int32, 0, len(s))
	for _, r := range s {
		id, ok := v.units.Get(string(r))
		if !ok {
			return nil, fmt.Errorf("unit %q is not in the vocabulary", string(r))
		}

		ids = append(ids, id)
	}

	return ids, nil
}
