package digest

import (
	"errors"
	"fmt"
	"strings"
)

// Fixed section sizes of a summary.
const (
	KeyPointCount    = 5
	ApplicationCount = 3
	KeyTermCount     = 5
)

// KeyTerm is an English term with its Korean gloss.
type KeyTerm struct {
	Term        string `json:"term"`
	Korean      string `json:"korean"`
	Explanation string `json:"explanation"`
}

// Summary is the four-section Korean summary of one video.
type Summary struct {
	OneLine      string    `json:"one_line"`
	KeyPoints    []string  `json:"key_points"`
	Applications []string  `json:"applications"`
	KeyTerms     []KeyTerm `json:"key_terms"`
}

// Validate checks every section is present with the exact item count.
func (s *Summary) Validate() error {
	var errs []error
	if strings.TrimSpace(s.OneLine) == "" {
		errs = append(errs, errors.New("one_line is empty"))
	}
	errs = append(errs, checkList("key_points", s.KeyPoints, KeyPointCount))
	errs = append(errs, checkList("applications", s.Applications, ApplicationCount))
	if len(s.KeyTerms) != KeyTermCount {
		errs = append(errs, fmt.Errorf("key_terms: got %d items, want %d", len(s.KeyTerms), KeyTermCount))
	}
	for i, t := range s.KeyTerms {
		if strings.TrimSpace(t.Term) == "" || strings.TrimSpace(t.Korean) == "" || strings.TrimSpace(t.Explanation) == "" {
			errs = append(errs, fmt.Errorf("key_terms[%d] is incomplete", i))
		}
	}
	return errors.Join(errs...)
}

func checkList(name string, items []string, want int) error {
	if len(items) != want {
		return fmt.Errorf("%s: got %d items, want %d", name, len(items), want)
	}
	for i, it := range items {
		if strings.TrimSpace(it) == "" {
			return fmt.Errorf("%s[%d] is empty", name, i)
		}
	}
	return nil
}

// Render formats the summary as the stored Korean text.
func (s *Summary) Render() string {
	var sb strings.Builder
	sb.WriteString("■ 한 줄 요약\n")
	sb.WriteString(strings.TrimSpace(s.OneLine))

	sb.WriteString("\n\n■ 핵심 내용\n")
	for i, p := range s.KeyPoints {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(p))
	}

	sb.WriteString("\n■ 활용 아이디어\n")
	for i, a := range s.Applications {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(a))
	}

	sb.WriteString("\n■ 핵심 용어\n")
	for _, t := range s.KeyTerms {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", strings.TrimSpace(t.Term), strings.TrimSpace(t.Korean), strings.TrimSpace(t.Explanation))
	}
	return strings.TrimRight(sb.String(), "\n")
}
