package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsNotifier 把事件追加到 Google Sheet，每个事件一行
type SheetsNotifier struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsNotifier 使用服务账号凭证文件授权
func NewSheetsNotifier(ctx context.Context, credentialPath, spreadsheetID, sheetName string) (*SheetsNotifier, error) {
	b, err := os.ReadFile(credentialPath)
	if err != nil {
		return nil, fmt.Errorf("读取凭证文件失败: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("无法加载凭证: %w", err)
	}

	return newSheetsNotifier(ctx, spreadsheetID, sheetName, option.WithCredentials(creds))
}

func newSheetsNotifier(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetsNotifier, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &SheetsNotifier{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func (s *SheetsNotifier) Notify(ctx context.Context, e Event) error {
	owner := ""
	if e.OwnerSnowflake != nil {
		owner = fmt.Sprint(*e.OwnerSnowflake)
	}
	values := [][]interface{}{{
		e.Time.Format(time.RFC3339),
		string(e.Type),
		e.Product,
		e.Key,
		e.HWID,
		owner,
		e.Uses,
		e.ID,
	}}

	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A2:H",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("同步到Google Sheet失败: %w", err)
	}
	return nil
}
