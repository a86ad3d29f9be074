package timing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	value float64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*float64) = r.value
	return nil
}

type fakeDB struct {
	args [][]any
	row  fakeRow
	err  error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.args = append(f.args, arguments)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.row
}

func TestAddImportTime(t *testing.T) {
	db := &fakeDB{}
	if err := New(db).AddImportTime(context.Background(), 3, 120, 1500*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(db.args) != 1 {
		t.Fatalf("expected one insert, got %d", len(db.args))
	}
	got := db.args[0]
	if got[0] != int64(3) || got[1] != int32(120) || got[2] != int64(1500) {
		t.Fatalf("unexpected arguments: %v", got)
	}

	db.err = errors.New("down")
	if err := New(db).AddImportTime(context.Background(), 4, 1, time.Second); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestPredictImportTime(t *testing.T) {
	tests := []struct {
		name    string
		row     fakeRow
		amount  int
		want    time.Duration
		wantErr bool
	}{
		{"no history", fakeRow{value: 0}, 500, 0, false},
		{"scaled average", fakeRow{value: 2.5}, 400, time.Second, false},
		{"query failure", fakeRow{err: errors.New("down")}, 10, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(&fakeDB{row: tt.row}).PredictImportTime(context.Background(), tt.amount)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("prediction = %v, want %v", got, tt.want)
			}
		})
	}
}
