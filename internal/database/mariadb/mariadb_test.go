package mariadb

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		url      string
		wantAddr string
		wantDB   string
		wantErr  bool
	}{
		{"mysql://root:pw@tcp(db:3306)/attendance", "db:3306", "attendance", false},
		{"mariadb://u:p@tcp(127.0.0.1:3307)/att?charset=utf8mb4", "127.0.0.1:3307", "att", false},
		{"u:p@tcp(localhost:3306)/plain", "localhost:3306", "plain", false},
		{"mysql://", "", "", true},
		{"mysql://u:p@tcp(db:3306)/x?parseTime=maybe", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if cfg.Addr != tt.wantAddr || cfg.DBName != tt.wantDB {
				t.Errorf("got addr=%s db=%s", cfg.Addr, cfg.DBName)
			}
			if !cfg.ParseTime || cfg.Loc != time.UTC {
				t.Error("expected parseTime in UTC to be forced")
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3); got != "?, ?, ?" {
		t.Errorf("placeholders(3) = %q", got)
	}
	if got := placeholders(1); got != "?" {
		t.Errorf("placeholders(1) = %q", got)
	}
}

func TestBuildAttendanceQuery(t *testing.T) {
	query, args := buildAttendanceQuery(database.AttendanceFilter{Role: database.RoleStudent, Date: "2024-03-11", Limit: 10})
	if !strings.Contains(query, "WHERE date = ? AND role = ?") {
		t.Errorf("unexpected WHERE clause: %s", query)
	}
	if !strings.HasSuffix(query, "LIMIT ?") {
		t.Errorf("expected LIMIT placeholder: %s", query)
	}
	if fmt.Sprint(args) != "[2024-03-11 student 10]" {
		t.Errorf("unexpected args %v", args)
	}

	query, args = buildAttendanceQuery(database.AttendanceFilter{})
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Errorf("expected unfiltered query, got %s %v", query, args)
	}
}

func TestErrorClassification(t *testing.T) {
	if !isDuplicateIndex(fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1061})) {
		t.Error("expected 1061 to be a duplicate index")
	}
	if !isMissingReference(&mysql.MySQLError{Number: 1452}) {
		t.Error("expected 1452 to be a missing reference")
	}
	if isDuplicateIndex(errors.New("other")) || isMissingReference(nil) {
		t.Error("expected plain errors not to be classified")
	}
}

func TestMigrationsOrdered(t *testing.T) {
	for i := 1; i < len(migrations); i++ {
		if migrations[i].version <= migrations[i-1].version {
			t.Errorf("migration %s out of order", migrations[i].version)
		}
	}
}

func TestMigrationsRepeatable(t *testing.T) {
	for _, m := range migrations {
		for i, stmt := range m.statements {
			s := strings.ToUpper(strings.TrimSpace(stmt))
			switch {
			case strings.HasPrefix(s, "CREATE TABLE"):
				if !strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS") {
					t.Errorf("%s step %d: CREATE TABLE without IF NOT EXISTS", m.version, i+1)
				}
			case strings.HasPrefix(s, "CREATE INDEX"):
				// Repeats fail with 1061, which Migrate treats as applied.
			default:
				t.Errorf("%s step %d: statement kind not known to be repeatable: %.40s", m.version, i+1, s)
			}
		}
	}
}

func TestDecodeEmbedding(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	r := &IdentityRepository{log: logger}

	e := make([]float32, embedding.Dim)
	e[7] = 0.5
	if got := r.decode("S001", embedding.Encode(e)); len(got) != embedding.Dim || got[7] != 0.5 {
		t.Errorf("expected round-tripped embedding, got %v", got)
	}
	if len(hook.AllEntries()) != 0 {
		t.Error("expected no log for a valid blob")
	}

	if got := r.decode("S002", []byte{0x00, 0x01, 0x02}); got != nil {
		t.Errorf("expected nil embedding for corrupt blob, got %v", got)
	}
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a warning for the corrupt blob")
	}
	if entry.Level != logrus.WarnLevel || entry.Data["identity_id"] != "S002" {
		t.Errorf("unexpected log entry: level=%s data=%v", entry.Level, entry.Data)
	}
}
