// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-process Store used by tests and benchmarks. The Fail*
// fields are failure-injection seams; set them before handing the store to
// the code under test.
type Memory struct {
	FailPutObject         func(key string) error
	FailUploadPart        func(key string, partNumber int32) error
	FailCompleteMultipart func(key string) error
	FailGetObjectRange    func(key string, firstByte, lastByte int64) error

	mu        sync.Mutex
	objects   map[string]*memObject
	uploads   map[string]*memUpload
	created   bool
	aborts    int
	uploadSeq int
}

type memObject struct {
	data        []byte
	meta        map[string]string
	contentType string
}

type memUpload struct {
	key         string
	parts       map[int32][]byte
	meta        map[string]string
	contentType string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]*memObject),
		uploads: make(map[string]*memUpload),
	}
}

func (m *Memory) CreateBucket(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created {
		return false, nil
	}
	m.created = true
	return true, nil
}

func (m *Memory) DeleteBucket(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.objects) > 0 {
		return errors.Errorf("bucket not empty: %d objects", len(m.objects))
	}
	m.created = false
	return nil
}

func (m *Memory) PutObject(_ context.Context, key string, body io.Reader, length int64, opts PutOptions) error {
	if m.FailPutObject != nil {
		if err := m.FailPutObject(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return errors.Wrapf(err, "read body of %s", key)
	}
	if length >= 0 && int64(len(data)) != length {
		return errors.Errorf("object %s: body is %d bytes, declared %d", key, len(data), length)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = &memObject{
		data:        data,
		meta:        lowercaseKeys(opts.UserMetadata),
		contentType: opts.ContentType,
	}
	return nil
}

func (m *Memory) StatObject(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, errors.Wrapf(ErrNotFound, "key %s", key)
	}
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		UserMetadata: copyMeta(obj.meta),
	}, nil
}

func (m *Memory) GetObject(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "key %s", key)
	}
	return &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			UserMetadata: copyMeta(obj.meta),
		},
		Body: io.NopCloser(bytes.NewReader(append([]byte{}, obj.data...))),
	}, nil
}

func (m *Memory) GetObjectRange(_ context.Context, key string, firstByte, lastByte int64) (io.ReadCloser, error) {
	if m.FailGetObjectRange != nil {
		if err := m.FailGetObjectRange(key, firstByte, lastByte); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "key %s", key)
	}
	size := int64(len(obj.data))
	if firstByte < 0 || firstByte > lastByte || firstByte >= size {
		return nil, errors.Errorf("invalid range bytes=%d-%d for %s (%d bytes)", firstByte, lastByte, key, size)
	}
	if lastByte >= size {
		lastByte = size - 1
	}
	data := append([]byte{}, obj.data[firstByte:lastByte+1]...)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) DeleteObjects(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

func (m *Memory) CreateMultipartUpload(_ context.Context, key string, opts PutOptions) (*MultipartUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadSeq++
	id := fmt.Sprintf("upload-%d", m.uploadSeq)
	m.uploads[id] = &memUpload{
		key:         key,
		parts:       make(map[int32][]byte),
		meta:        lowercaseKeys(opts.UserMetadata),
		contentType: opts.ContentType,
	}
	return &MultipartUpload{
		Key:          key,
		UploadID:     id,
		ContentType:  opts.ContentType,
		UserMetadata: lowercaseKeys(opts.UserMetadata),
	}, nil
}

func (m *Memory) UploadPart(_ context.Context, mpu *MultipartUpload, partNumber int32, body io.Reader, length int64) (Part, error) {
	if m.FailUploadPart != nil {
		if err := m.FailUploadPart(mpu.Key, partNumber); err != nil {
			return Part{}, err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Part{}, errors.Wrapf(err, "read part %d of %s", partNumber, mpu.Key)
	}
	if int64(len(data)) != length {
		return Part{}, errors.Errorf("part %d of %s: body is %d bytes, declared %d", partNumber, mpu.Key, len(data), length)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[mpu.UploadID]
	if !ok {
		return Part{}, errors.Errorf("unknown upload %s", mpu.UploadID)
	}
	up.parts[partNumber] = data
	return Part{
		Number: partNumber,
		ETag:   fmt.Sprintf("etag-%s-%d", mpu.UploadID, partNumber),
		Size:   length,
	}, nil
}

func (m *Memory) CompleteMultipartUpload(_ context.Context, mpu *MultipartUpload, parts []Part) error {
	if m.FailCompleteMultipart != nil {
		if err := m.FailCompleteMultipart(mpu.Key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[mpu.UploadID]
	if !ok {
		return errors.Errorf("unknown upload %s", mpu.UploadID)
	}
	if len(parts) == 0 {
		return errors.Errorf("complete upload %s without parts", mpu.UploadID)
	}
	ordered := append([]Part{}, parts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	var data []byte
	for _, p := range ordered {
		body, ok := up.parts[p.Number]
		if !ok {
			return errors.Errorf("upload %s has no part %d", mpu.UploadID, p.Number)
		}
		data = append(data, body...)
	}
	m.objects[up.key] = &memObject{
		data:        data,
		meta:        copyMeta(up.meta),
		contentType: up.contentType,
	}
	delete(m.uploads, mpu.UploadID)
	return nil
}

func (m *Memory) AbortMultipartUpload(_ context.Context, mpu *MultipartUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[mpu.UploadID]; !ok {
		return errors.Errorf("unknown upload %s", mpu.UploadID)
	}
	delete(m.uploads, mpu.UploadID)
	m.aborts++
	return nil
}

// Exists reports whether key is stored.
func (m *Memory) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// ObjectData returns a copy of the stored bytes of key, or nil.
func (m *Memory) ObjectData(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil
	}
	return append([]byte{}, obj.data...)
}

// SetObjectData replaces the stored bytes of key, creating it if absent.
// Tests use it to corrupt stored objects in place.
func (m *Memory) SetObjectData(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		obj = &memObject{}
		m.objects[key] = obj
	}
	obj.data = append([]byte{}, data...)
}

// ObjectUserMetadata returns a copy of the user metadata of key.
func (m *Memory) ObjectUserMetadata(key string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil
	}
	return copyMeta(obj.meta)
}

// SetObjectUserMetadata overrides one user-metadata key of a stored object.
func (m *Memory) SetObjectUserMetadata(key, metaKey, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[key]; ok {
		if obj.meta == nil {
			obj.meta = map[string]string{}
		}
		obj.meta[metaKey] = value
	}
}

// Keys lists stored object keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ActiveUploads counts multipart uploads that are neither completed nor
// aborted.
func (m *Memory) ActiveUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// AbortCount counts aborted multipart uploads.
func (m *Memory) AbortCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborts
}

func copyMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
