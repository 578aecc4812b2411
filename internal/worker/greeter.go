package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/unpieceof/meemoo/internal/llm"
	"github.com/unpieceof/meemoo/internal/prompts"
)

const (
	weatherTimeout = 10 * time.Second
	noWeather      = "날씨 정보 없음"
)

// krHolidays maps month*100+day to fixed-date Korean holidays.
var krHolidays = map[int]string{
	101:  "신정",
	301:  "삼일절",
	505:  "어린이날",
	606:  "현충일",
	815:  "광복절",
	1003: "개천절",
	1009: "한글날",
	1225: "크리스마스",
}

var koreanWeekdays = [...]string{"일", "월", "화", "수", "목", "금", "토"}

// Greeter writes the ambient one-liners: the /sms reply and the morning greeting.
type Greeter struct {
	texter     llm.Texter
	prompts    *prompts.Set
	client     *http.Client
	weatherURL string
}

func NewGreeter(texter llm.Texter, p *prompts.Set, weatherURL string) *Greeter {
	if p == nil {
		p = prompts.Defaults()
	}
	return &Greeter{
		texter:     texter,
		prompts:    p,
		client:     &http.Client{Timeout: weatherTimeout},
		weatherURL: weatherURL,
	}
}

func (g *Greeter) WithHTTPClient(c *http.Client) *Greeter {
	g.client = c
	return g
}

// OneLiner writes a line that depends only on the time of day.
func (g *Greeter) OneLiner(ctx context.Context, now time.Time) (string, error) {
	user := fmt.Sprintf("시간대: %s (%02d시)", TimeOfDay(now), now.Hour())
	line, err := g.texter.Text(ctx, g.prompts.System(prompts.SMS), user, g.prompts.MaxTokens(prompts.SMS, 60))
	if err != nil {
		return "", fmt.Errorf("sms one-liner: %w", err)
	}
	return line, nil
}

// Morning writes the greeting from today's date, holiday and weather.
func (g *Greeter) Morning(ctx context.Context, now time.Time) (string, error) {
	user := fmt.Sprintf("날짜: %s\n날씨: %s", DateInfo(now), g.Weather(ctx))
	line, err := g.texter.Text(ctx, g.prompts.System(prompts.Morning), user, g.prompts.MaxTokens(prompts.Morning, 80))
	if err != nil {
		return "", fmt.Errorf("morning greeting: %w", err)
	}
	return line, nil
}

// Weather returns a one-line description, or a fixed fallback on any failure.
func (g *Greeter) Weather(ctx context.Context) string {
	if g.weatherURL == "" {
		return noWeather
	}
	ctx, cancel := context.WithTimeout(ctx, weatherTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.weatherURL, nil)
	if err != nil {
		log.Printf("[greeter] weather request warning: %v", err)
		return noWeather
	}
	req.Header.Set("Accept-Language", "ko")
	resp, err := g.client.Do(req)
	if err != nil {
		log.Printf("[greeter] weather fetch warning: %v", err)
		return noWeather
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[greeter] weather fetch warning: status %d", resp.StatusCode)
		return noWeather
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		log.Printf("[greeter] weather read warning: %v", err)
		return noWeather
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return noWeather
	}
	return text
}

// DateInfo renders "3월 1일 (금)" with the holiday name appended when there is one.
func DateInfo(t time.Time) string {
	base := fmt.Sprintf("%d월 %d일 (%s)", int(t.Month()), t.Day(), koreanWeekdays[t.Weekday()])
	if name, ok := krHolidays[int(t.Month())*100+t.Day()]; ok {
		base += " · " + name
	}
	return base
}

func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h < 6:
		return "새벽"
	case h < 11:
		return "아침"
	case h < 14:
		return "점심"
	case h < 18:
		return "오후"
	case h < 22:
		return "저녁"
	default:
		return "밤"
	}
}
