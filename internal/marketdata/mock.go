package marketdata

import (
	"context"
	"time"
)

// Mock implements Client against in-memory fixtures, so C3/C4/C6 tests can
// drive deterministic scenarios without any network access, the same
// fixture-over-interface pattern this codebase's lineage uses for its own
// quotes adapter tests.
type Mock struct {
	Minute        map[string]map[string][]Bar    // ticker -> date -> bars
	Daily         map[string][]DailyBar          // ticker -> bars
	Grouped       map[string]map[string]DailyBar // date -> ticker -> bar
	ReferenceData map[string]*ReferenceRecord
	Errors        map[string]error // "minute:TICKER:DATE" -> forced error
}

func NewMock() *Mock {
	return &Mock{
		Minute:        map[string]map[string][]Bar{},
		Daily:         map[string][]DailyBar{},
		Grouped:       map[string]map[string]DailyBar{},
		ReferenceData: map[string]*ReferenceRecord{},
		Errors:        map[string]error{},
	}
}

func (m *Mock) SetMinuteBars(ticker string, date time.Time, bars []Bar) {
	if m.Minute[ticker] == nil {
		m.Minute[ticker] = map[string][]Bar{}
	}
	m.Minute[ticker][date.Format("2006-01-02")] = bars
}

func (m *Mock) SetGroupedDaily(date time.Time, bars map[string]DailyBar) {
	m.Grouped[date.Format("2006-01-02")] = bars
}

func (m *Mock) MinuteBars(_ context.Context, ticker string, date time.Time, _ bool) ([]Bar, error) {
	key := "minute:" + ticker + ":" + date.Format("2006-01-02")
	if err := m.Errors[key]; err != nil {
		return nil, err
	}
	return m.Minute[ticker][date.Format("2006-01-02")], nil
}

func (m *Mock) DailyBars(_ context.Context, ticker string, from, to time.Time) ([]DailyBar, error) {
	var out []DailyBar
	for _, b := range m.Daily[ticker] {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Mock) GroupedDaily(_ context.Context, date time.Time) (map[string]DailyBar, error) {
	key := "grouped:" + date.Format("2006-01-02")
	if err := m.Errors[key]; err != nil {
		return nil, err
	}
	return m.Grouped[date.Format("2006-01-02")], nil
}

func (m *Mock) Reference(_ context.Context, ticker string) (*ReferenceRecord, error) {
	return m.ReferenceData[ticker], nil
}

func (m *Mock) HasDailyBar(date time.Time) bool {
	return len(m.Grouped[date.Format("2006-01-02")]) > 0
}
