package poll

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
)

// DefaultMaxControls caps the vote buttons under a poll message.
const DefaultMaxControls = 10

//go:embed templates/*.html
var templates embed.FS

var pollTmpl *template.Template

func init() {
	var err error
	pollTmpl, err = template.New("poll.html").Funcs(template.FuncMap{
		"percent": formatPercent,
		"voters":  formatVoters,
	}).ParseFS(templates, "templates/poll.html")
	if err != nil {
		panic(err)
	}
}

// OptionResult is one option with the users currently voting for it.
type OptionResult struct {
	Index   int
	Text    string
	Voters  []User
	Percent float64
}

type Results struct {
	Question string
	Total    int
	// Options holds only options with at least one vote, most voted first.
	Options []OptionResult
}

// Content is everything pushed to the display for one render.
type Content struct {
	Text     string
	Controls []Control
}

// Tally groups the votes of p by option.
func Tally(p *Poll) *Results {
	byOption := make(map[int][]User)
	for userID, idx := range p.Votes {
		u, ok := p.Users[userID]
		if !ok {
			u = User{ID: userID}
		}
		byOption[idx] = append(byOption[idx], u)
	}

	res := &Results{Question: p.Question, Total: len(p.Votes)}
	for _, idx := range rankOptions(p, byOption) {
		voters := byOption[idx]
		if len(voters) == 0 {
			continue
		}
		sort.Slice(voters, func(i, j int) bool { return voters[i].ID < voters[j].ID })
		res.Options = append(res.Options, OptionResult{
			Index:   idx,
			Text:    p.Options[idx],
			Voters:  voters,
			Percent: 100 * float64(len(voters)) / float64(res.Total),
		})
	}
	return res
}

// textData is what the poll template renders.
type textData struct {
	*Results
	// Overflow lists options without votes that got no control either, so
	// the text is the only place they show up.
	Overflow []string
}

// Render computes the display content of p. It is deterministic in the
// poll's options, votes and users.
func Render(p *Poll, maxControls int) (*Content, error) {
	res := Tally(p)

	counts := make(map[int]int, len(res.Options))
	for _, o := range res.Options {
		counts[o.Index] = len(o.Voters)
	}

	data := textData{Results: res}
	var controls []Control
	for _, idx := range rankOptions(p, nil) {
		if maxControls > 0 && len(controls) == maxControls {
			if counts[idx] == 0 {
				data.Overflow = append(data.Overflow, p.Options[idx])
			}
			continue
		}
		label := p.Options[idx]
		if n := counts[idx]; n > 0 {
			label = fmt.Sprintf("%s (%d)", label, n)
		}
		controls = append(controls, Control{Index: idx, Label: label})
	}

	var buf bytes.Buffer
	if err := pollTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render poll text: %w", err)
	}

	return &Content{Text: strings.TrimRight(buf.String(), "\n"), Controls: controls}, nil
}

// rankOptions orders option indices by vote count descending, then by index.
func rankOptions(p *Poll, byOption map[int][]User) []int {
	counts := make(map[int]int)
	if byOption != nil {
		for idx, voters := range byOption {
			counts[idx] = len(voters)
		}
	} else {
		for _, idx := range p.Votes {
			counts[idx]++
		}
	}

	order := make([]int, len(p.Options))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return order
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func formatVoters(users []User) template.HTML {
	links := make([]string, 0, len(users))
	for _, u := range users {
		links = append(links, fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, template.HTMLEscapeString(u.Name())))
	}
	return template.HTML(strings.Join(links, ", "))
}
