package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tasksync/internal/client/channel"
	"tasksync/internal/websocket"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes against the server",
	RunE:  runSync,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live task updates from other sessions",
	RunE:  runWatch,
}

func runSync(cmd *cobra.Command, args []string) error {
	eng, _, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	before := eng.Status().PendingChanges
	if before == 0 {
		fmt.Println("Nothing to sync")
	}

	if err := eng.Drain(context.Background()); err != nil {
		fmt.Printf("Sync finished with failures: %v\n", err)
	} else if before > 0 {
		fmt.Printf("Synced %d change(s)\n", before)
	}

	printStatusBanners(eng)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	eng, sess, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := eng.Fetch(context.Background()); err != nil {
		fmt.Printf("Initial fetch failed: %v\n", err)
	}

	ch := channel.New(sess.ServerURL, sess.Token)

	unsubscribe := ch.Subscribe(func(event *websocket.Event) {
		eng.HandleEvent(event)
		describeEvent(event)
	})
	defer unsubscribe()

	offStateChange := ch.OnStateChange(func(state channel.State) {
		fmt.Printf("connection: %s\n", state)
		if state == channel.StateAuthFailed {
			fmt.Println("credential rejected, run 'tasksync login' again")
		}
	})
	defer offStateChange()

	if err := ch.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer ch.Close()

	fmt.Println("Watching for updates, Ctrl+C to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	return nil
}

func describeEvent(event *websocket.Event) {
	switch event.Type {
	case websocket.EventTaskCreated:
		var payload websocket.TaskCreatedPayload
		if err := event.UnmarshalPayload(&payload); err == nil {
			fmt.Printf("created: %q (%s)\n", payload.Task.Title, payload.Task.ID)
		}
	case websocket.EventTaskUpdated:
		var payload websocket.TaskUpdatedPayload
		if err := event.UnmarshalPayload(&payload); err == nil {
			fmt.Printf("updated: %q is now %s\n", payload.Task.Title, payload.Task.Status)
		}
	case websocket.EventTaskDeleted:
		var payload websocket.TaskDeletedPayload
		if err := event.UnmarshalPayload(&payload); err == nil {
			fmt.Printf("deleted: %s\n", payload.TaskID)
		}
	}
}
