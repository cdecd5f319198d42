package registration

import (
	"context"
	"errors"
	"testing"

	"github.com/yerzhan-dev/manybot/internal/registry"
	"github.com/yerzhan-dev/manybot/internal/store"
	"github.com/yerzhan-dev/manybot/internal/store/file"
	"github.com/yerzhan-dev/manybot/internal/telegram"
	"github.com/yerzhan-dev/manybot/internal/vault"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

type fakeAPI struct {
	identities  map[string]telegram.Identity
	webhooks    map[string]string
	webhookErr  error
	sendErr     error
	deletedHook []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		identities: make(map[string]telegram.Identity),
		webhooks:   make(map[string]string),
	}
}

func (f *fakeAPI) Validate(ctx context.Context, token string) (telegram.Identity, error) {
	id, ok := f.identities[token]
	if !ok {
		return telegram.Identity{}, telegram.ErrUnauthorized
	}
	return id, nil
}

func (f *fakeAPI) SetWebhook(ctx context.Context, token, url string) error {
	if f.webhookErr != nil {
		return f.webhookErr
	}
	f.webhooks[token] = url
	return nil
}

func (f *fakeAPI) DeleteWebhook(ctx context.Context, token string) error {
	f.deletedHook = append(f.deletedHook, token)
	return nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, token string, chatID int64, text string) error {
	return f.sendErr
}

func newTestService(t *testing.T, api telegram.API) (*Service, *registry.Registry) {
	t.Helper()
	reg := registry.New(store.NewFailover(nil, file.New(t.TempDir()), logger.Noop()))
	v, err := vault.New(nil)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return NewService(reg, v, api, "https://example.com", logger.Noop()), reg
}

func TestRegister(t *testing.T) {
	api := newFakeAPI()
	api.identities["111:abc"] = telegram.Identity{ID: 100, Username: "x"}
	svc, reg := newTestService(t, api)
	ctx := context.Background()

	res, err := svc.Register(ctx, 5, "111:abc")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if res.BotID != 100 || res.Username != "x" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.WebhookInstalled {
		t.Fatal("webhook should be installed")
	}
	if got := api.webhooks["111:abc"]; got != "https://example.com/u/5_100" {
		t.Fatalf("unexpected webhook url: %s", got)
	}

	mine, err := reg.ListRegistrationsByOwner(ctx, 5)
	if err != nil {
		t.Fatalf("ListRegistrationsByOwner error: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected exactly one registration, got %d", len(mine))
	}
	if mine[res.Key].BotID != 100 {
		t.Fatalf("expected bot_id 100, got %d", mine[res.Key].BotID)
	}
}

func TestRegister_MalformedToken(t *testing.T) {
	svc, reg := newTestService(t, newFakeAPI())
	ctx := context.Background()

	for _, token := range []string{"", "short", "no-separator-here", ":abc", "111:", "abc:def"} {
		if _, err := svc.Register(ctx, 5, token); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("token %q: expected ErrMalformedToken, got %v", token, err)
		}
	}

	mine, _ := reg.ListRegistrationsByOwner(ctx, 5)
	if len(mine) != 0 {
		t.Fatal("no registration should be created for malformed tokens")
	}
}

func TestRegister_UpstreamRejected(t *testing.T) {
	svc, reg := newTestService(t, newFakeAPI())
	ctx := context.Background()

	if _, err := svc.Register(ctx, 5, "111:abc"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	mine, _ := reg.ListRegistrationsByOwner(ctx, 5)
	if len(mine) != 0 {
		t.Fatal("no registration should be created for rejected tokens")
	}
}

func TestRegister_WebhookFailureIsNonFatal(t *testing.T) {
	api := newFakeAPI()
	api.identities["111:abc"] = telegram.Identity{ID: 100, Username: "x"}
	api.webhookErr = errors.New("upstream down")
	svc, reg := newTestService(t, api)
	ctx := context.Background()

	res, err := svc.Register(ctx, 5, "111:abc")
	if err != nil {
		t.Fatalf("Register should succeed despite webhook failure: %v", err)
	}
	if res.WebhookInstalled {
		t.Fatal("webhook should be reported as not installed")
	}

	if _, err := reg.GetRegistration(ctx, res.Key); err != nil {
		t.Fatalf("registration should be kept: %v", err)
	}
}

func TestRegister_ReplacesExisting(t *testing.T) {
	api := newFakeAPI()
	api.identities["111:abc"] = telegram.Identity{ID: 100, Username: "x"}
	api.identities["111:rotated"] = telegram.Identity{ID: 100, Username: "x"}
	svc, reg := newTestService(t, api)
	ctx := context.Background()

	first, err := svc.Register(ctx, 5, "111:abc")
	if err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	if err := reg.AddSubscriber(ctx, first.Key, 42); err != nil {
		t.Fatalf("AddSubscriber error: %v", err)
	}

	second, err := svc.Register(ctx, 5, "111:rotated")
	if err != nil {
		t.Fatalf("second Register error: %v", err)
	}
	if !second.Replaced {
		t.Fatal("re-registration should report replacement")
	}
	if second.Key != first.Key {
		t.Fatal("re-registration should keep the original key")
	}

	mine, _ := reg.ListRegistrationsByOwner(ctx, 5)
	if len(mine) != 1 {
		t.Fatalf("expected exactly one registration after replace, got %d", len(mine))
	}
	if mine[first.Key].Token != "111:rotated" {
		t.Fatalf("credential should be rotated, got %s", mine[first.Key].Token)
	}

	// Subscriber set survives token rotation.
	subs, _ := reg.Subscribers(ctx, first.Key)
	if !subs[42] {
		t.Fatal("subscriber set should survive replacement")
	}
}

func TestDeregister(t *testing.T) {
	api := newFakeAPI()
	api.identities["111:abc"] = telegram.Identity{ID: 100, Username: "x"}
	svc, reg := newTestService(t, api)
	ctx := context.Background()

	res, err := svc.Register(ctx, 5, "111:abc")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := reg.AddSubscriber(ctx, res.Key, 10); err != nil {
		t.Fatalf("AddSubscriber error: %v", err)
	}

	if err := svc.Deregister(ctx, res.Key); err != nil {
		t.Fatalf("Deregister error: %v", err)
	}

	if _, err := reg.GetRegistration(ctx, res.Key); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after deregister, got %v", err)
	}
	if len(api.deletedHook) != 1 || api.deletedHook[0] != "111:abc" {
		t.Fatalf("expected webhook teardown for the bot token, got %v", api.deletedHook)
	}
}
