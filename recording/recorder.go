// Package recording persists hang alerts in a SQLite database so that a hang
// investigation can happen after the monitored process is gone.
package recording

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/syniuhin/servo/hangmon"
)

// SQLiteAlertWriter writes hang alerts to a SQLite database. It implements
// hangmon.Hook, so it can be attached to a monitor directly and record every
// alert the monitor emits.
type SQLiteAlertWriter struct {
	*sql.DB
	statement *sql.Stmt

	dbName        string
	alertsToWrite []hangmon.Alert
	batchSize     int
	logger        *log.Logger
}

// NewSQLiteAlertWriter creates a new SQLiteAlertWriter. If path is empty, a
// unique database name is generated. Buffered alerts are flushed at process
// exit.
func NewSQLiteAlertWriter(path string) *SQLiteAlertWriter {
	w := &SQLiteAlertWriter{
		dbName:    path,
		batchSize: 1024,
		logger:    log.New(os.Stderr, "recording: ", log.LstdFlags),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

// Init establishes a connection to the database and prepares the alert table.
// Setup failures are configuration errors and panic.
func (w *SQLiteAlertWriter) Init() {
	w.createDatabase()
	w.createTable()
	w.prepareStatement()
}

func (w *SQLiteAlertWriter) createDatabase() {
	if w.dbName == "" {
		w.dbName = "servo_hang_alerts_" + xid.New().String()
	}

	filename := w.dbName + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Hang alerts are recorded in database: %s\n",
		filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	w.DB = db
}

func (w *SQLiteAlertWriter) createTable() {
	w.mustExecute(`
		create table alerts
		(
			alert_id   varchar(200) not null,
			kind       varchar(20)  not null,
			component  varchar(200) not null,
			annotation varchar(500),
			time       datetime     not null
		);
	`)
}

func (w *SQLiteAlertWriter) prepareStatement() {
	stmt, err := w.Prepare(`
		insert into alerts (alert_id, kind, component, annotation, time)
		values (?, ?, ?, ?, ?);
	`)
	if err != nil {
		panic(err)
	}

	w.statement = stmt
}

// Write buffers one alert for recording.
func (w *SQLiteAlertWriter) Write(alert hangmon.Alert) {
	w.alertsToWrite = append(w.alertsToWrite, alert)
	if len(w.alertsToWrite) >= w.batchSize {
		w.Flush()
	}
}

// Flush writes all the buffered alerts to the database. Write errors are
// logged and the affected alerts dropped; recording must never take down the
// process it is documenting.
func (w *SQLiteAlertWriter) Flush() {
	if len(w.alertsToWrite) == 0 {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for _, alert := range w.alertsToWrite {
		_, err := w.statement.Exec(
			alert.ID,
			alert.Kind.String(),
			string(alert.Component),
			fmt.Sprintf("%v", alert.Annotation),
			alert.Time,
		)
		if err != nil {
			w.logger.Printf("failed to record alert %s: %v", alert.ID, err)
		}
	}

	w.alertsToWrite = nil
}

// Func records the alert carried by HookPosAlert contexts. Other hook
// positions are ignored.
func (w *SQLiteAlertWriter) Func(ctx hangmon.HookCtx) {
	if ctx.Pos != hangmon.HookPosAlert {
		return
	}

	w.Write(ctx.Item.(hangmon.Alert))
}

func (w *SQLiteAlertWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		panic(err)
	}
	return res
}
