package model

import (
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// guidAlphabet is the printable base91 alphabet Anki draws note GUIDs from.
const guidAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&()*+,-./:;<=>?@[]^_`{|}~"

const guidLength = 10

var nowMillis = func() int64 { return time.Now().UnixMilli() }

// IDGenerator hands out millisecond timestamp IDs that never repeat, even
// when called several times within one millisecond.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
}

// Next returns the next ID.
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := nowMillis()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// Observe makes sure later IDs are greater than id.
func (g *IDGenerator) Observe(id int64) {
	g.mu.Lock()
	if id > g.last {
		g.last = id
	}
	g.mu.Unlock()
}

// NewGUID returns a random note GUID.
func NewGUID() (string, error) {
	return gonanoid.Generate(guidAlphabet, guidLength)
}

var clozePattern = regexp.MustCompile(`\{\{c(\d+)::`)

// ClozeOrdinals returns the zero-based card ordinals referenced by cloze
// deletions in fields, sorted and without duplicates.
func ClozeOrdinals(fields []string) []int {
	seen := make(map[int]bool)
	var ords []int
	for _, f := range fields {
		for _, m := range clozePattern.FindAllStringSubmatch(f, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				continue
			}
			if !seen[n-1] {
				seen[n-1] = true
				ords = append(ords, n-1)
			}
		}
	}
	sort.Ints(ords)
	return ords
}

// CardOrdinals returns the ordinals of the cards a note of model m produces:
// one per template for standard models, one per cloze number for cloze
// models. A cloze note without deletions still gets card 0.
func CardOrdinals(m *Model, n *Note) []int {
	if m.Type == ModelCloze {
		ords := ClozeOrdinals(n.Fields)
		if len(ords) == 0 {
			return []int{0}
		}
		return ords
	}
	ords := make([]int, len(m.Templates))
	for i := range m.Templates {
		ords[i] = m.Templates[i].Ord
	}
	return ords
}
