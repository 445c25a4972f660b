package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	rows []TimelineRow
	last Query
}

func (s *stubRepo) Timeline(_ context.Context, q Query) ([]TimelineRow, error) {
	s.last = q
	if q.Limit > 0 && len(s.rows) > q.Limit {
		return s.rows[:q.Limit], nil
	}
	return s.rows, nil
}

func row(id int64, at string, action string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{ID: id, At: ts, ActorID: 42, Action: action, Entity: "inventory_case", EntityID: "c-1"}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		row(3, "2026-03-10T10:00:00Z", "case:break"),
		row(2, "2026-03-09T09:00:00Z", "location:deactivate"),
		row(1, "2026-03-08T08:00:00Z", "exception:resolve"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Entity: " inventory_case ", Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)
	require.Equal(t, 3, repo.last.Limit)
	require.Equal(t, 0, repo.last.Offset)
	require.Equal(t, "inventory_case", repo.last.Entity)

	_, err = svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, maxPageSize+1, repo.last.Limit)
	require.Equal(t, 2*maxPageSize, repo.last.Offset)
}

func TestServiceExportIsUnbounded(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{row(1, "2026-03-08T08:00:00Z", "case:break")}}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{Action: "case:break", PageSize: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Zero(t, repo.last.Limit)
	require.Equal(t, "case:break", repo.last.Action)
}

func TestServiceWithoutRepository(t *testing.T) {
	_, err := NewService(nil).Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	r := row(7, "2026-03-08T08:00:00Z", "inventory:override")
	r.Meta = map[string]any{"bottles": 2}
	out, err := WriteCSV([]TimelineRow{r})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, []string{"7", "2026-03-08T08:00:00Z", "42", "inventory:override", "inventory_case", "c-1", `{"bottles":2}`}, records[1])
}
