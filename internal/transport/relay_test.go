package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packshare/internal/broker"
	"packshare/internal/config"
	"packshare/internal/cryptobox"
	"packshare/internal/processor"
	"packshare/internal/protocol"
	"packshare/pkg/utils"
)

func relayConfig(url string) config.RelayConfig {
	cfg := config.NewDefaultConfig().Relay
	cfg.BrokerURL = url
	cfg.PublishTimeout = 5 * time.Second
	return cfg
}

func joinReady(t *testing.T, d *RelayDialer, code, role string, key []byte) Link {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link, err := d.Join(ctx, "", code, role, key)
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })
	require.NoError(t, link.WaitForConnection(ctx, 5*time.Second))
	return link
}

func TestRelayTransferThroughBroker(t *testing.T) {
	srv := httptest.NewServer(broker.New(time.Minute).Handler())
	defer srv.Close()
	cfg := relayConfig(srv.URL)

	code, err := utils.GenerateShareCode()
	require.NoError(t, err)
	key, err := cryptobox.DeriveKeyFromCode(code)
	require.NoError(t, err)

	otherCode, err := utils.GenerateShareCode()
	require.NoError(t, err)
	otherKey, err := cryptobox.DeriveKeyFromCode(otherCode)
	require.NoError(t, err)

	// Source pack
	dir := t.TempDir()
	content := make([]byte, 9000)
	_, err = rand.Read(content)
	require.NoError(t, err)
	src := filepath.Join(dir, "mod.pak")
	require.NoError(t, os.WriteFile(src, content, 0644))
	manifest, sources, err := processor.NewFileService(true).BuildManifest("pack", "", "", []string{src})
	require.NoError(t, err)

	sharerLink := joinReady(t, NewRelayDialer(cfg, "sharer-1"), code, RoleSharer, key)
	bystander := joinReady(t, NewRelayDialer(cfg, "bystander-1"), otherCode, RoleReceiver, otherKey)
	receiverLink := joinReady(t, NewRelayDialer(cfg, "receiver-1"), " "+code+" ", RoleReceiver, key)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sharerSession := protocol.NewSession(sharerLink, nil)
	go sharerSession.Run(ctx, protocol.NewSharer(sharerSession, manifest, sources, key,
		protocol.SharerOptions{ChunkSize: cfg.ChunkSize}, nil))

	out := t.TempDir()
	receiverSession := protocol.NewSession(receiverLink, nil)
	receiver := protocol.NewReceiver(ctx, receiverSession, key, protocol.ReceiverOptions{
		OutputDir:      out,
		VerifyHashes:   true,
		RequestTimeout: 2 * time.Second,
		MaxRetries:     3,
	})
	go receiverSession.Run(ctx, receiver)

	var sawPackInfo bool
	deadline := time.After(20 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-receiver.Events():
			switch ev.Kind {
			case protocol.EventPackInfo:
				sawPackInfo = true
			case protocol.EventError:
				t.Fatalf("transfer failed: %s", ev.Err)
			case protocol.EventComplete:
				done = true
			}
		case <-deadline:
			t.Fatal("relay transfer did not complete")
		}
	}
	assert.True(t, sawPackInfo)

	got, err := os.ReadFile(filepath.Join(out, "mod.pak"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	// The client in the other room saw none of it.
	select {
	case data := <-bystander.Messages():
		t.Fatalf("bystander received %s", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelayDropsForeignAndMisaddressedFrames(t *testing.T) {
	srv := httptest.NewServer(broker.New(time.Minute).Handler())
	defer srv.Close()
	cfg := relayConfig(srv.URL)

	key, err := cryptobox.DeriveKeyFromCode("abcdefgh")
	require.NoError(t, err)
	link := joinReady(t, NewRelayDialer(cfg, "me"), "abcdefgh", RoleSharer, key)
	topic := link.(*RelayTransport).Topic()

	post := func(body string) {
		resp, err := http.Post(srv.URL+"/"+topic, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
	}

	post("plain text from someone else")
	post(`{"type":"RequestPackInfo","room":"elsewhere","from":"x"}`)
	post(`{"type":"RequestPackInfo","room":"` + topic + `","from":"me"}`)
	post(`{"type":"ChunkRequest","room":"` + topic + `","from":"x","to":"not-me","filename":"a","chunk_index":0}`)
	post(`{"type":"Ping","room":"` + topic + `","from":"x"}`)
	post(`{"type":"RequestPackInfo","room":"` + topic + `","from":"x"}`)

	select {
	case data := <-link.Messages():
		msg, err := protocol.DeserializeMessage(data)
		require.NoError(t, err)
		assert.Equal(t, protocol.MsgRequestPackInfo, msg.Type)
		assert.Equal(t, "x", msg.From)
	case <-time.After(5 * time.Second):
		t.Fatal("valid frame not delivered")
	}

	select {
	case data := <-link.Messages():
		t.Fatalf("unexpected extra message %s", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelayJoinRejectsBadBrokerURL(t *testing.T) {
	d := NewRelayDialer(relayConfig("http://127.0.0.1:1"), "me")
	_, err := d.Join(context.Background(), "ftp://example.com", "code", RoleSharer, make([]byte, 32))
	assert.Error(t, err)
}
