package integration

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
	"storefront/backend/internal/resilience"
)

const (
	sheetsTimeout = 10 * time.Second
	sheetsRetries = 2
)

// SheetsClient appends rows to a Google spreadsheet via the Sheets API.
type SheetsClient struct {
	svc           *sheets.Service
	spreadsheetID string
}

func NewSheetsClient(ctx context.Context, spreadsheetID, credentialsFile string) (*SheetsClient, error) {
	svc, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsClient{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func (c *SheetsClient) Append(ctx context.Context, tab string, row []string) error {
	values := make([]any, len(row))
	for i, v := range row {
		values[i] = v
	}

	_, err := resilience.WithRetries(ctx,
		resilience.RetryOptions{MaxRetries: sheetsRetries, BaseDelay: 500 * time.Millisecond},
		func(ctx context.Context) (struct{}, error) {
			return resilience.WithTimeout(ctx, sheetsTimeout, "SHEETS_TIMEOUT", "sheets append exceeded deadline",
				func(ctx context.Context) (struct{}, error) {
					_, err := c.svc.Spreadsheets.Values.
						Append(c.spreadsheetID, tab+"!A:Z", &sheets.ValueRange{Values: [][]any{values}}).
						ValueInputOption("RAW").
						InsertDataOption("INSERT_ROWS").
						Context(ctx).
						Do()
					return struct{}{}, err
				})
		})
	if err != nil {
		return fmt.Errorf("append to %s: %w", tab, err)
	}
	return nil
}
