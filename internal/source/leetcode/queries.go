package leetcode

import (
	"encoding/json"
	"strings"

	"lcdaily/internal/domain"
)

const queryTodayCOM = `
query questionOfToday {
  activeDailyCodingChallengeQuestion {
    date
    link
    question {
      acRate
      difficulty
      frontendQuestionId: questionFrontendId
      paidOnly: isPaidOnly
      title
      titleSlug
      topicTags { name slug }
    }
  }
}`

const queryTodayCN = `
query questionOfToday {
  todayRecord {
    date
    question {
      frontendQuestionId: questionFrontendId
      difficulty
      title
      titleCn: translatedTitle
      titleSlug
      paidOnly: isPaidOnly
      acRate
      topicTags { name slug }
    }
  }
}`

const queryMonthly = `
query dailyCodingQuestionRecords($year: Int!, $month: Int!) {
  dailyCodingChallengeV2(year: $year, month: $month) {
    challenges {
      date
      link
      question { questionFrontendId title titleSlug }
    }
  }
}`

const queryDetail = `
query getQuestionDetail($titleSlug: String!) {
  question(titleSlug: $titleSlug) {
    questionFrontendId
    title
    titleSlug
    translatedTitle
    difficulty
    acRate
    isPaidOnly
    content
    translatedContent
    similarQuestions
    topicTags { name slug }
  }
}`

const queryRecentAC = `
query recentAcSubmissions($username: String!, $limit: Int!) {
  recentAcSubmissionList(username: $username, limit: $limit) {
    id
    title
    titleSlug
    timestamp
  }
}`

type topicTag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func tagNames(tags []topicTag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t.Name != "" {
			out = append(out, t.Name)
		}
	}
	return out
}

type todayQuestion struct {
	FrontendQuestionID string     `json:"frontendQuestionId"`
	Title              string     `json:"title"`
	TitleCN            string     `json:"titleCn"`
	TitleSlug          string     `json:"titleSlug"`
	Difficulty         string     `json:"difficulty"`
	ACRate             float64    `json:"acRate"`
	PaidOnly           bool       `json:"paidOnly"`
	TopicTags          []topicTag `json:"topicTags"`
}

type todayRecord struct {
	Date     string        `json:"date"`
	Link     string        `json:"link"`
	Question todayQuestion `json:"question"`
}

type monthlyChallenge struct {
	Date     string `json:"date"`
	Link     string `json:"link"`
	Question struct {
		QuestionFrontendID string `json:"questionFrontendId"`
		Title              string `json:"title"`
		TitleSlug          string `json:"titleSlug"`
	} `json:"question"`
}

type questionDetail struct {
	QuestionFrontendID string     `json:"questionFrontendId"`
	Title              string     `json:"title"`
	TitleSlug          string     `json:"titleSlug"`
	TranslatedTitle    string     `json:"translatedTitle"`
	Difficulty         string     `json:"difficulty"`
	ACRate             float64    `json:"acRate"`
	IsPaidOnly         bool       `json:"isPaidOnly"`
	Content            string     `json:"content"`
	TranslatedContent  string     `json:"translatedContent"`
	SimilarQuestions   string     `json:"similarQuestions"` // JSON list encoded as a string
	TopicTags          []topicTag `json:"topicTags"`
}

type similarQuestion struct {
	Title           string `json:"title"`
	TitleSlug       string `json:"titleSlug"`
	Difficulty      string `json:"difficulty"`
	TranslatedTitle string `json:"translatedTitle"`
}

func parseSimilar(raw string) []domain.SimilarProblem {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var qs []similarQuestion
	if err := json.Unmarshal([]byte(raw), &qs); err != nil {
		return nil
	}
	out := make([]domain.SimilarProblem, 0, len(qs))
	for _, q := range qs {
		if q.TitleSlug == "" {
			continue
		}
		out = append(out, domain.SimilarProblem{
			Slug:       q.TitleSlug,
			Title:      q.Title,
			TitleCN:    q.TranslatedTitle,
			Difficulty: q.Difficulty,
		})
	}
	return out
}

// listing is the shape of /api/problems/algorithms/.
type listing struct {
	StatStatusPairs []struct {
		Stat struct {
			FrontendQuestionID json.Number `json:"frontend_question_id"`
			Slug               string      `json:"question__title_slug"`
			Title              string      `json:"question__title"`
			Hide               bool        `json:"question__hide"`
		} `json:"stat"`
		Difficulty struct {
			Level int `json:"level"`
		} `json:"difficulty"`
		PaidOnly bool `json:"paid_only"`
	} `json:"stat_status_pairs"`
}

func problemLink(site domain.Site, slug string) string {
	return site.BaseURL() + "/problems/" + strings.Trim(slug, "/") + "/"
}

func (q todayQuestion) toProblem(site domain.Site) domain.Problem {
	ac := q.ACRate
	if site == domain.SiteCN && ac <= 1 {
		ac *= 100
	}
	return domain.Problem{
		ID:         q.FrontendQuestionID,
		Site:       site,
		Slug:       q.TitleSlug,
		Title:      q.Title,
		TitleCN:    q.TitleCN,
		Difficulty: q.Difficulty,
		Tags:       tagNames(q.TopicTags),
		Link:       problemLink(site, q.TitleSlug),
		ACRate:     ac,
		PaidOnly:   q.PaidOnly,
	}
}

func (d questionDetail) toProblem(site domain.Site) domain.Problem {
	content := d.Content
	if site == domain.SiteCN && d.TranslatedContent != "" {
		content = d.TranslatedContent
	}
	return domain.Problem{
		ID:         d.QuestionFrontendID,
		Site:       site,
		Slug:       d.TitleSlug,
		Title:      d.Title,
		TitleCN:    d.TranslatedTitle,
		Difficulty: d.Difficulty,
		Tags:       tagNames(d.TopicTags),
		Link:       problemLink(site, d.TitleSlug),
		ACRate:     d.ACRate,
		PaidOnly:   d.IsPaidOnly,
		Content:    content,
		Similar:    parseSimilar(d.SimilarQuestions),
	}
}
