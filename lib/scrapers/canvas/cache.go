package canvas

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/peterfisher/canvas-parent/lib/timezone"

	"github.com/andybalholm/brotli"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errPageNotFound = fmt.Errorf("webpage not found in cache")

var cacheBucket = []byte("webpages")

type webpage struct {
	Contents []byte

	ExpiresAt int64
}

type PageCache struct {
	db *bbolt.DB
	// a unique id for the account being scraped, pages from
	// different accounts must not collide
	clientId string
}

func NewPageCache(db *bbolt.DB, clientId string) (*PageCache, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &PageCache{db: db, clientId: clientId}, nil
}

func (c *PageCache) key(endpoint string) string {
	return c.clientId + ":" + endpoint
}

func (c *PageCache) get(ctx context.Context, endpoint string) (webpage, error) {
	ctx, span := tracer.Start(ctx, "cache:get")
	defer span.End()

	key := c.key(endpoint)
	span.SetAttributes(attribute.String("cache_key", key))

	var compressed []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(cacheBucket).Get([]byte(key))
		if value == nil {
			return errPageNotFound
		}
		compressed = append([]byte(nil), value...)
		return nil
	})
	if err == errPageNotFound {
		return webpage{}, errPageNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cached item")
		return webpage{}, err
	}

	serialized, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decompress cached item")
		return webpage{}, err
	}

	var cached webpage
	err = gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&cached)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached item")
		return webpage{}, err
	}

	if timezone.Now().Unix() >= cached.ExpiresAt {
		span.AddEvent("delete expired cache key", trace.WithAttributes(
			attribute.String("key", key),
		))

		err = c.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(cacheBucket).Delete([]byte(key))
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to delete expired key")
		}

		span.SetStatus(codes.Ok, "CACHE EXPIRED")
		return webpage{}, errPageNotFound
	}

	span.AddEvent("successfully returned cached webpage", trace.WithAttributes(
		attribute.Int("contentlength", len(cached.Contents)),
	))

	return cached, nil
}

func (c *PageCache) set(ctx context.Context, endpoint string, page webpage) error {
	ctx, span := tracer.Start(ctx, "cache:set")
	defer span.End()

	key := c.key(endpoint)
	span.SetAttributes(attribute.String("cache_key", key))

	serialized := bytes.NewBuffer(nil)
	err := gob.NewEncoder(serialized).Encode(page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize webpage")
		return err
	}

	compressed := bytes.NewBuffer(nil)
	writer := brotli.NewWriter(compressed)
	_, err = writer.Write(serialized.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compress webpage")
		return err
	}
	err = writer.Close()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to flush compressed webpage")
		return err
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(key), compressed.Bytes())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set cache item")
		return err
	}

	return nil
}
