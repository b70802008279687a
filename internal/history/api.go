package history

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ledlink-node/internal/httpd"
	"ledlink-node/internal/logger"
)

const dateLayout = "2006-01-02"

// DataPoint is one event as served to the web UI.
type DataPoint struct {
	Timestamp int64  `json:"t"`
	Source    string `json:"source"`
	State     string `json:"state"`
	Ack       string `json:"ack"`
	Result    string `json:"result"`
}

// dateParam returns the "date" query value, or "" when absent.
func dateParam(req *httpd.Request) (string, error) {
	v, err := req.QueryValue("date", len(dateLayout)+1)
	if errors.Is(err, httpd.ErrNoQuery) || errors.Is(err, httpd.ErrQueryKeyNotFound) {
		return "", nil
	}
	return v, err
}

func dayBounds(date string) (int64, int64, error) {
	start, err := time.ParseInLocation(dateLayout, date, time.Local)
	if err != nil {
		return 0, 0, err
	}
	return start.Unix(), start.AddDate(0, 0, 1).Unix() - 1, nil
}

// HandleGetHistory returns events for the day given by the "date" query
// parameter (YYYY-MM-DD), or for yesterday and today.
func (r *Recorder) HandleGetHistory(req *httpd.Request) error {
	date, err := dateParam(req)
	if err != nil {
		return req.SendError(http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD.")
	}

	var start, end int64
	if date != "" {
		if start, end, err = dayBounds(date); err != nil {
			return req.SendError(http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD.")
		}
	} else {
		now := r.now()
		yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
		start, end = yesterday.Unix(), now.Unix()
	}

	records, err := r.store.GetHistory(start, end)
	if err != nil {
		logger.Error("Failed to read history: %v", err)
		return req.SendError(http.StatusInternalServerError, "Failed to read history")
	}

	history := make([]DataPoint, 0, len(records))
	for _, rec := range records {
		history = append(history, DataPoint{
			Timestamp: rec.Timestamp,
			Source:    rec.Source,
			State:     rec.State,
			Ack:       rec.Ack,
			Result:    rec.Result,
		})
	}
	return sendJSON(req, history)
}

// HandleGetDates returns the days that have recorded events, newest first.
func (r *Recorder) HandleGetDates(req *httpd.Request) error {
	dates, err := r.store.GetDistinctDates()
	if err != nil {
		logger.Error("Failed to list history dates: %v", err)
		return req.SendError(http.StatusInternalServerError, "Failed to list history dates")
	}
	if dates == nil {
		dates = []string{}
	}
	return sendJSON(req, dates)
}

// HandleDownloadCSV serves one day of events as a CSV attachment.
func (r *Recorder) HandleDownloadCSV(req *httpd.Request) error {
	date, err := dateParam(req)
	if err != nil || date == "" {
		return req.SendError(http.StatusBadRequest, "Missing date parameter")
	}
	start, end, err := dayBounds(date)
	if err != nil {
		return req.SendError(http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD.")
	}

	records, err := r.store.GetHistory(start, end)
	if err != nil {
		logger.Error("Failed to read history: %v", err)
		return req.SendError(http.StatusInternalServerError, "Failed to read history")
	}
	if len(records) == 0 {
		return req.SendError(http.StatusNotFound, "No history for this date")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"timestamp", "source", "state", "ack", "result"})
	for _, rec := range records {
		w.Write([]string{
			time.Unix(rec.Timestamp, 0).Format(time.RFC3339),
			rec.Source,
			rec.State,
			rec.Ack,
			rec.Result,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	req.SetContentType("text/csv")
	req.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=\"history_%s.csv\"", date))
	return req.Send(buf.Bytes())
}

func sendJSON(req *httpd.Request, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req.SetContentType("application/json")
	return req.Send(body)
}
