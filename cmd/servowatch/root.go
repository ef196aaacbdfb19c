package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/syniuhin/servo/hangmon"
	"github.com/syniuhin/servo/monitoring"
	"github.com/syniuhin/servo/recording"
)

var (
	numWorkersFlag   int
	transientFlag    time.Duration
	permanentFlag    time.Duration
	pollIntervalFlag time.Duration
	durationFlag     time.Duration
	webPortFlag      int
	openPageFlag     bool
	sqliteFlag       string
)

var rootCmd = &cobra.Command{
	Use:   "servowatch",
	Short: "Watch a set of demo workers with a background hang monitor",
	Long: `Servowatch spawns demo workers that report activity to a background ` +
		`hang monitor. One worker stops reporting halfway through, so the ` +
		`monitor escalates a transient and then a permanent hang alert for it. ` +
		`The monitor state is served over HTTP and the alerts are recorded in ` +
		`a SQLite database.`,
	Run: func(_ *cobra.Command, _ []string) {
		run()
	},
}

func init() {
	rootCmd.Flags().IntVar(&numWorkersFlag, "workers", 3,
		"number of demo workers to watch")
	rootCmd.Flags().DurationVar(&transientFlag, "transient", 300*time.Millisecond,
		"transient hang timeout for each worker")
	rootCmd.Flags().DurationVar(&permanentFlag, "permanent", 1500*time.Millisecond,
		"permanent hang timeout for each worker")
	rootCmd.Flags().DurationVar(&pollIntervalFlag, "poll-interval", 100*time.Millisecond,
		"how often the monitor re-evaluates workers")
	rootCmd.Flags().DurationVar(&durationFlag, "duration", 5*time.Second,
		"how long to run before shutting the monitor down")
	rootCmd.Flags().IntVar(&webPortFlag, "port", envInt("SERVOWATCH_PORT", 0),
		"port for the web status server, 0 for a random port")
	rootCmd.Flags().BoolVar(&openPageFlag, "open", false,
		"open the web status page in a browser")
	rootCmd.Flags().StringVar(&sqliteFlag, "sqlite", os.Getenv("SERVOWATCH_SQLITE"),
		"name of the SQLite database to record alerts in, empty for a generated name")
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}

	return n
}

func run() {
	port := make(chan hangmon.Msg, 64)
	alerts := make(chan hangmon.Alert, 64)

	monitor, err := hangmon.NewBackgroundHangMonitor(
		port, hangmon.NewChannelSink(alerts),
		workerID(0), transientFlag, permanentFlag)
	if err != nil {
		log.Fatal(err)
	}
	monitor.WithPollInterval(pollIntervalFlag)

	for i := 1; i < numWorkersFlag; i++ {
		if err := monitor.RegisterComponent(
			workerID(i), transientFlag, permanentFlag); err != nil {
			log.Fatal(err)
		}
	}

	monitor.AcceptHook(hangmon.NewAlertLogger(
		log.New(os.Stderr, "alert: ", log.LstdFlags)))

	recorder := recording.NewSQLiteAlertWriter(sqliteFlag)
	recorder.Init()
	monitor.AcceptHook(recorder)

	server := monitoring.NewServer()
	if webPortFlag != 0 {
		server.WithPortNumber(webPortFlag)
	}
	server.RegisterMonitor(monitor)
	actualPort := server.StartServer()

	if openPageFlag {
		url := fmt.Sprintf("http://localhost:%d/api/components", actualPort)
		if err := browser.OpenURL(url); err != nil {
			log.Printf("failed to open %s: %v", url, err)
		}
	}

	stop := make(chan struct{})
	var workers sync.WaitGroup

	for i := 0; i < numWorkersFlag; i++ {
		workers.Add(1)
		go runWorker(&workers, port, stop, workerID(i), i == numWorkersFlag-1)
	}

	go drainAlerts(alerts)

	go func() {
		time.Sleep(durationFlag)
		close(stop)
		workers.Wait()
		close(port)
	}()

	if err := monitor.Run(); err != nil {
		log.Fatal(err)
	}

	recorder.Flush()
	atexit.Exit(0)
}

func workerID(i int) hangmon.ComponentID {
	return hangmon.ComponentID(fmt.Sprintf("worker-%d", i))
}

// runWorker simulates a component that alternates between working and
// waiting. A hanging worker starts a task halfway through the run and never
// reports again.
func runWorker(
	workers *sync.WaitGroup,
	port chan<- hangmon.Msg,
	stop <-chan struct{},
	id hangmon.ComponentID,
	hangs bool,
) {
	defer workers.Done()

	step := 0
	hangAfter := int(durationFlag / (2 * 50 * time.Millisecond))

	for {
		select {
		case <-stop:
			return
		case <-time.After(50 * time.Millisecond):
		}

		step++

		if hangs && step > hangAfter {
			// Busy from the monitor's point of view, never reporting
			// progress again.
			return
		}

		msg := hangmon.Msg{
			Component:  id,
			Type:       hangmon.MsgNotifyActivity,
			Annotation: fmt.Sprintf("task %d", step),
		}
		if step%4 == 0 && !hangs {
			msg = hangmon.Msg{Component: id, Type: hangmon.MsgNotifyWait}
		}

		select {
		case port <- msg:
		case <-stop:
			return
		}
	}
}

func drainAlerts(alerts <-chan hangmon.Alert) {
	for alert := range alerts {
		fmt.Printf("supervisor received %s hang alert for %s (%v)\n",
			alert.Kind, string(alert.Component), alert.Annotation)
	}
}
