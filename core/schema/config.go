package schema

import (
	"bytes"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/model"
)

// flag is an Anki boolean stored as either a JSON number or a JSON bool,
// depending on which client last wrote the collection.
type flag int

func (f *flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*f = 1
	case "false", "null":
		*f = 0
	default:
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = flag(n)
	}
	return nil
}

type colConf struct {
	ActiveDecks   []int64 `json:"activeDecks"`
	CurDeck       int64   `json:"curDeck"`
	NewSpread     int     `json:"newSpread"`
	CollapseTime  int     `json:"collapseTime"`
	TimeLim       int     `json:"timeLim"`
	EstTimes      bool    `json:"estTimes"`
	DueCounts     bool    `json:"dueCounts"`
	CurModel      *int64  `json:"curModel"`
	NextPos       int64   `json:"nextPos"`
	SortType      string  `json:"sortType"`
	SortBackwards bool    `json:"sortBackwards"`
	AddToCur      bool    `json:"addToCur"`
	SchedVer      int     `json:"schedVer"`
}

type fieldJSON struct {
	Name   string   `json:"name"`
	Ord    int      `json:"ord"`
	Sticky bool     `json:"sticky"`
	RTL    bool     `json:"rtl"`
	Font   string   `json:"font"`
	Size   int      `json:"size"`
	Media  []string `json:"media"`
}

type templateJSON struct {
	Name   string `json:"name"`
	Ord    int    `json:"ord"`
	QFmt   string `json:"qfmt"`
	AFmt   string `json:"afmt"`
	DeckID *int64 `json:"did"`
	BQFmt  string `json:"bqfmt"`
	BAFmt  string `json:"bafmt"`
}

type modelJSON struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Type      int            `json:"type"`
	Mod       int64          `json:"mod"`
	USN       int            `json:"usn"`
	SortField int            `json:"sortf"`
	DeckID    *int64         `json:"did"`
	Templates []templateJSON `json:"tmpls"`
	Fields    []fieldJSON    `json:"flds"`
	CSS       string         `json:"css"`
	LatexPre  string         `json:"latexPre"`
	LatexPost string         `json:"latexPost"`
	LatexSVG  bool           `json:"latexsvg"`
	Tags      []string       `json:"tags"`
	Vers      []int          `json:"vers"`
}

type deckJSON struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Desc             string   `json:"desc"`
	Mod              int64    `json:"mod"`
	USN              int      `json:"usn"`
	LrnToday         [2]int64 `json:"lrnToday"`
	RevToday         [2]int64 `json:"revToday"`
	NewToday         [2]int64 `json:"newToday"`
	TimeToday        [2]int64 `json:"timeToday"`
	Collapsed        flag     `json:"collapsed"`
	BrowserCollapsed flag     `json:"browserCollapsed"`
	Dyn              flag     `json:"dyn"`
	Conf             int64    `json:"conf"`
	ExtendNew        int64    `json:"extendNew"`
	ExtendRev        int64    `json:"extendRev"`
}

// latestDeckJSON adds the per-deck limits of schema 18.
type latestDeckJSON struct {
	deckJSON
	ReviewLimit *int64 `json:"reviewLimit"`
	NewLimit    *int64 `json:"newLimit"`
}

type newConf struct {
	Bury          bool      `json:"bury"`
	Delays        []float64 `json:"delays"`
	InitialFactor int       `json:"initialFactor"`
	Ints          []int     `json:"ints"`
	Order         int       `json:"order"`
	PerDay        int       `json:"perDay"`
}

type revConf struct {
	Bury       bool    `json:"bury"`
	Ease4      float64 `json:"ease4"`
	IvlFct     float64 `json:"ivlFct"`
	MaxIvl     int     `json:"maxIvl"`
	PerDay     int     `json:"perDay"`
	HardFactor float64 `json:"hardFactor"`
}

type lapseConf struct {
	Delays      []float64 `json:"delays"`
	LeechAction int       `json:"leechAction"`
	LeechFails  int       `json:"leechFails"`
	MinInt      int       `json:"minInt"`
	Mult        float64   `json:"mult"`
}

type deckConfJSON struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Mod      int64     `json:"mod"`
	USN      int       `json:"usn"`
	MaxTaken int       `json:"maxTaken"`
	Autoplay bool      `json:"autoplay"`
	Timer    int       `json:"timer"`
	Replayq  bool      `json:"replayq"`
	Dyn      bool      `json:"dyn"`
	New      newConf   `json:"new"`
	Rev      revConf   `json:"rev"`
	Lapse    lapseConf `json:"lapse"`
}

func defaultDeckConf(mod int64) deckConfJSON {
	return deckConfJSON{
		ID:       model.DefaultConfID,
		Name:     "Default",
		Mod:      mod,
		MaxTaken: 60,
		Autoplay: true,
		Replayq:  true,
		New: newConf{
			Delays:        []float64{1, 10},
			InitialFactor: 2500,
			Ints:          []int{1, 4, 0},
			Order:         1,
			PerDay:        20,
		},
		Rev: revConf{
			Ease4:      1.3,
			IvlFct:     1,
			MaxIvl:     36500,
			PerDay:     200,
			HardFactor: 1.2,
		},
		Lapse: lapseConf{
			Delays:      []float64{10},
			LeechAction: 1,
			LeechFails:  8,
			MinInt:      1,
		},
	}
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func marshalString(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// encodeConf returns the global collection options. The current model is the
// lowest model id so that output is deterministic.
func encodeConf(coll *model.Collection) (string, error) {
	conf := colConf{
		ActiveDecks:  []int64{model.DefaultDeckID},
		CurDeck:      model.DefaultDeckID,
		CollapseTime: 1200,
		EstTimes:     true,
		DueCounts:    true,
		NextPos:      int64(len(coll.Notes)) + 1,
		SortType:     "noteFld",
		AddToCur:     true,
		SchedVer:     2,
	}
	ids := sortedKeys(coll.Models)
	if len(ids) > 0 {
		conf.CurModel = &ids[0]
	}
	return marshalString(conf)
}

func encodeModels(models map[int64]model.Model, mod int64) (string, error) {
	out := make(map[string]modelJSON, len(models))
	for id, m := range models {
		deckID := m.DeckID
		if deckID == 0 {
			deckID = model.DefaultDeckID
		}
		mj := modelJSON{
			ID:        id,
			Name:      m.Name,
			Type:      m.Type,
			Mod:       m.Mod,
			USN:       -1,
			SortField: m.SortField,
			DeckID:    &deckID,
			Templates: make([]templateJSON, len(m.Templates)),
			Fields:    make([]fieldJSON, len(m.Fields)),
			CSS:       m.CSS,
			LatexPre:  latexPre,
			LatexPost: latexPost,
			Tags:      []string{},
			Vers:      []int{},
		}
		if mj.Mod == 0 {
			mj.Mod = mod
		}
		for i, t := range m.Templates {
			mj.Templates[i] = templateJSON(t)
		}
		for i, f := range m.Fields {
			mj.Fields[i] = fieldJSON{
				Name:   f.Name,
				Ord:    f.Ord,
				Sticky: f.Sticky,
				RTL:    f.RTL,
				Font:   f.Font,
				Size:   f.Size,
				Media:  []string{},
			}
			if mj.Fields[i].Font == "" {
				mj.Fields[i].Font = "Arial"
			}
			if mj.Fields[i].Size == 0 {
				mj.Fields[i].Size = 20
			}
		}
		out[idKey(id)] = mj
	}
	return marshalString(out)
}

// encodeDecks serializes decks, adding the default deck when absent. Deck
// limits are only written for f with scheduler tables.
func encodeDecks(f format.Format, decks map[int64]model.Deck, mod int64) (string, error) {
	all := make(map[int64]model.Deck, len(decks)+1)
	for id, d := range decks {
		all[id] = d
	}
	if _, ok := all[model.DefaultDeckID]; !ok {
		all[model.DefaultDeckID] = model.NewDeck(model.DefaultDeckID, "Default")
	}

	if !f.HasSchedulerTables() {
		out := make(map[string]deckJSON, len(all))
		for id, d := range all {
			out[idKey(id)] = toDeckJSON(id, d, mod)
		}
		return marshalString(out)
	}
	out := make(map[string]latestDeckJSON, len(all))
	for id, d := range all {
		out[idKey(id)] = latestDeckJSON{
			deckJSON:    toDeckJSON(id, d, mod),
			ReviewLimit: d.ReviewLimit,
			NewLimit:    d.NewLimit,
		}
	}
	return marshalString(out)
}

func toDeckJSON(id int64, d model.Deck, mod int64) deckJSON {
	dj := deckJSON{
		ID:               id,
		Name:             d.Name,
		Desc:             d.Description,
		Mod:              d.Mod,
		USN:              -1,
		LrnToday:         d.LearnToday,
		RevToday:         d.ReviewToday,
		NewToday:         d.NewToday,
		TimeToday:        d.TimeToday,
		Collapsed:        boolFlag(d.Collapsed),
		BrowserCollapsed: boolFlag(d.BrowserCollapsed),
		Dyn:              boolFlag(d.Dynamic),
		Conf:             d.ConfID,
		ExtendNew:        d.ExtendNew,
		ExtendRev:        d.ExtendReview,
	}
	if dj.Mod == 0 {
		dj.Mod = mod
	}
	if dj.Conf == 0 && !d.Dynamic {
		dj.Conf = model.DefaultConfID
	}
	return dj
}

func boolFlag(b bool) flag {
	if b {
		return 1
	}
	return 0
}

func encodeDeckConf(mod int64) (string, error) {
	return marshalString(map[string]deckConfJSON{
		idKey(model.DefaultConfID): defaultDeckConf(mod),
	})
}

func decodeModels(blob string) (map[int64]model.Model, error) {
	var raw map[string]modelJSON
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return nil, err
	}
	out := make(map[int64]model.Model, len(raw))
	for key, mj := range raw {
		id := mj.ID
		if id == 0 {
			parsed, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				continue
			}
			id = parsed
		}
		m := model.Model{
			ID:        id,
			Name:      mj.Name,
			Type:      mj.Type,
			Mod:       mj.Mod,
			SortField: mj.SortField,
			CSS:       mj.CSS,
			Templates: make([]model.CardTemplate, len(mj.Templates)),
			Fields:    make([]model.Field, len(mj.Fields)),
		}
		if mj.DeckID != nil {
			m.DeckID = *mj.DeckID
		}
		for i, t := range mj.Templates {
			m.Templates[i] = model.CardTemplate(t)
		}
		for i, f := range mj.Fields {
			m.Fields[i] = model.Field{
				Name:   f.Name,
				Ord:    f.Ord,
				Sticky: f.Sticky,
				RTL:    f.RTL,
				Font:   f.Font,
				Size:   f.Size,
			}
		}
		sort.SliceStable(m.Templates, func(i, j int) bool { return m.Templates[i].Ord < m.Templates[j].Ord })
		sort.SliceStable(m.Fields, func(i, j int) bool { return m.Fields[i].Ord < m.Fields[j].Ord })
		out[id] = m
	}
	return out, nil
}

func decodeDecks(blob string) (map[int64]model.Deck, error) {
	var raw map[string]latestDeckJSON
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return nil, err
	}
	out := make(map[int64]model.Deck, len(raw))
	for key, dj := range raw {
		id := dj.ID
		if id == 0 {
			parsed, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				continue
			}
			id = parsed
		}
		out[id] = model.Deck{
			ID:               id,
			Name:             dj.Name,
			Description:      dj.Desc,
			Mod:              dj.Mod,
			LearnToday:       dj.LrnToday,
			ReviewToday:      dj.RevToday,
			NewToday:         dj.NewToday,
			TimeToday:        dj.TimeToday,
			Collapsed:        dj.Collapsed != 0,
			BrowserCollapsed: dj.BrowserCollapsed != 0,
			Dynamic:          dj.Dyn != 0,
			ConfID:           dj.Conf,
			ExtendNew:        dj.ExtendNew,
			ExtendReview:     dj.ExtendRev,
			ReviewLimit:      dj.ReviewLimit,
			NewLimit:         dj.NewLimit,
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

const latexPre = `\documentclass[12pt]{article}
\special{papersize=3in,5in}
\usepackage[utf8]{inputenc}
\usepackage{amssymb,amsmath}
\pagestyle{empty}
\setlength{\parindent}{0in}
\begin{document}
`

const latexPost = `\end{document}`
