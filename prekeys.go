package walink

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/walink/crypto"
	"github.com/opd-ai/walink/metrics"
	"github.com/opd-ai/walink/store"
	"github.com/opd-ai/walink/wabin"
)

const (
	// preKeyBatchSize is how many one-time pre-keys each upload
	// carries.
	preKeyBatchSize = 100
	// preKeyRefillThreshold triggers a refill when the unused count
	// drops below it.
	preKeyRefillThreshold = 10
)

// uploadPreKeysIfNeeded uploads a batch when the server has none yet
// or a full batch has accumulated locally.
func (s *Session) uploadPreKeysIfNeeded(ctx context.Context) error {
	s.mu.Lock()
	creds := s.creds
	need := creds != nil &&
		(!creds.ServerHasPreKeys || creds.NextPreKeyID-creds.FirstUnuploadedPreKeyID >= preKeyBatchSize)
	s.mu.Unlock()
	if !need {
		return nil
	}
	return s.uploadPreKeys(ctx)
}

// uploadPreKeys generates any missing keys in the pending range, sends
// the registration bundle and advances the upload watermark on
// success. preKeyUploadInFlight prevents overlap and clears on both
// completion and cancellation.
func (s *Session) uploadPreKeys(ctx context.Context) error {
	s.mu.Lock()
	if s.flags.preKeyUploadInFlight {
		s.mu.Unlock()
		return nil
	}
	s.flags.preKeyUploadInFlight = true
	creds := s.creds
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.flags.preKeyUploadInFlight = false
		s.mu.Unlock()
	}()

	batch, err := s.preparePreKeyBatch(creds)
	if err != nil {
		return err
	}

	keyNodes := make([]wabin.Node, 0, len(batch))
	for _, k := range batch {
		keyNodes = append(keyNodes, wabin.Node{
			Tag: "key",
			Content: []wabin.Node{
				{Tag: "id", Content: be24(k.KeyID)},
				{Tag: "value", Content: k.KeyPair.Pub[:]},
			},
		})
	}

	regid := make([]byte, 4)
	binary.BigEndian.PutUint32(regid, creds.RegistrationID)

	iq := &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"to":    ServerJID,
			"type":  "set",
			"xmlns": "encrypt",
		},
		Content: []wabin.Node{
			{Tag: "registration", Content: regid},
			{Tag: "type", Content: []byte{0x05}},
			{Tag: "identity", Content: creds.SignedIdentityKey.Pub[:]},
			{Tag: "list", Content: keyNodes},
			{Tag: "skey", Content: []wabin.Node{
				{Tag: "id", Content: be24(creds.SignedPreKey.KeyID)},
				{Tag: "value", Content: creds.SignedPreKey.KeyPair.Pub[:]},
				{Tag: "signature", Content: creds.SignedPreKey.Signature[:]},
			}},
		},
	}

	if _, err := s.sendIQ(ctx, iq); err != nil {
		return fmt.Errorf("walink: pre-key upload: %w", err)
	}

	s.mu.Lock()
	creds.ServerHasPreKeys = true
	creds.FirstUnuploadedPreKeyID = creds.NextPreKeyID
	s.mu.Unlock()
	if err := s.saveCreds(); err != nil {
		return err
	}
	metrics.PreKeyUploads.Inc()
	s.log.WithField("count", len(batch)).Info("uploaded pre-keys")
	return nil
}

// preparePreKeyBatch materializes the range
// [firstUnuploadedPreKeyId, nextPreKeyId), topping the range up to a
// full batch first, and persists any freshly generated keys.
func (s *Session) preparePreKeyBatch(creds *store.AuthCreds) ([]store.PreKey, error) {
	s.mu.Lock()
	first := creds.FirstUnuploadedPreKeyID
	next := creds.NextPreKeyID
	pending := next - first
	if pending < preKeyBatchSize {
		creds.NextPreKeyID += preKeyBatchSize - pending
		next = creds.NextPreKeyID
	}
	s.mu.Unlock()

	var fresh []store.PreKey
	batch := make([]store.PreKey, 0, next-first)
	for id := first; id < next; id++ {
		existing, err := s.keys.GetPreKey(id)
		if err != nil {
			return nil, fmt.Errorf("walink: load pre-key %d: %w", id, err)
		}
		if existing != nil {
			batch = append(batch, *existing)
			continue
		}
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("walink: generate pre-key %d: %w", id, err)
		}
		k := store.PreKey{KeyID: id, KeyPair: *kp}
		fresh = append(fresh, k)
		batch = append(batch, k)
	}
	if len(fresh) > 0 {
		if err := s.keys.PutPreKeys(fresh); err != nil {
			return nil, fmt.Errorf("walink: store pre-keys: %w", err)
		}
		// The advanced watermark must be durable before the bundle
		// leaves, or a crash would reissue the same ids.
		if err := s.saveCreds(); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// MarkPreKeyUsed flags a consumed pre-key and tops the pool back up
// when it runs low.
func (s *Session) MarkPreKeyUsed(ctx context.Context, keyID uint32) error {
	if err := s.keys.MarkPreKeyUsed(keyID); err != nil {
		return err
	}
	count, err := s.keys.CountUnusedPreKeys()
	if err != nil {
		return err
	}
	if count >= preKeyRefillThreshold {
		return nil
	}
	s.log.WithField("available", count).Info("pre-key pool low, refilling")
	return s.uploadPreKeys(ctx)
}

func be24(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}
