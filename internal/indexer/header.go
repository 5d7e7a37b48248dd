package indexer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
)

// ParseMeta extracts searchable metadata from a header artifact of
// "Key: value" lines (keys case-insensitive). The year comes from the
// header when it has one, otherwise from the "year" field of the optional
// meta JSON. Missing text fields become index.Unknown.
func ParseMeta(header, metaJSON []byte) index.DocMeta {
	var m index.DocMeta
	year, haveYear := 0, false

	sc := bufio.NewScanner(bytes.NewReader(header))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "title":
			m.Title = value
		case "author":
			m.Author = value
		case "language":
			m.Language = value
		case "year":
			if y, ok := parseYear(value); ok {
				year, haveYear = y, true
			}
		}
	}
	if !haveYear {
		year, haveYear = yearFromMeta(metaJSON)
	}
	if haveYear {
		m.Year = year
	}
	if m.Title == "" {
		m.Title = index.Unknown
	}
	if m.Author == "" {
		m.Author = index.Unknown
	}
	if m.Language == "" {
		m.Language = index.Unknown
	}
	return m
}

func parseYear(s string) (int, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if digits == "" {
		return 0, false
	}
	y, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return y, true
}

func yearFromMeta(raw []byte) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return 0, false
	}
	switch v := meta["year"].(type) {
	case float64:
		return int(v), true
	case string:
		return parseYear(v)
	}
	return 0, false
}
