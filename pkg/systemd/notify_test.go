package systemd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Notify(StateReady)
	if err != nil || sent {
		t.Fatalf("Notify = %v, %v; want false, nil outside systemd", sent, err)
	}
}

func TestNotifySendsState(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram unavailable: %v", err)
	}
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	if sent, err := Status("draining"); err != nil || !sent {
		t.Fatalf("Status = %v, %v", sent, err)
	}
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "STATUS=draining" {
		t.Fatalf("datagram = %q", got)
	}
}

func TestWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan error, 1)
	go func() { done <- Watchdog(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watchdog = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watchdog blocked without WATCHDOG_USEC")
	}
}
