// cache.go — кэш метаданных документов для скачивания и проверки целостности.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medarchive/internal/domain/model"
)

var documentCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ma_document_cache_requests_total",
	Help: "Обращения к кэшу метаданных документов (hit/miss)",
}, []string{"result"})

// DocumentCache — LRU-кэш метаданных документов с TTL.
// Хранит копии: изменение возвращённого значения не влияет на кэш.
type DocumentCache struct {
	lru *expirable.LRU[string, model.Document]
}

// NewDocumentCache создаёт кэш на size записей с временем жизни ttl.
func NewDocumentCache(size int, ttl time.Duration) *DocumentCache {
	return &DocumentCache{lru: expirable.NewLRU[string, model.Document](size, nil, ttl)}
}

// Get возвращает документ из кэша.
func (c *DocumentCache) Get(id string) (*model.Document, bool) {
	doc, ok := c.lru.Get(id)
	if !ok {
		documentCacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	documentCacheRequests.WithLabelValues("hit").Inc()
	return &doc, true
}

// Set сохраняет копию документа.
func (c *DocumentCache) Set(doc *model.Document) {
	c.lru.Add(doc.ID, *doc)
}

// Invalidate удаляет документ из кэша.
func (c *DocumentCache) Invalidate(id string) {
	c.lru.Remove(id)
}

// Len — количество записей.
func (c *DocumentCache) Len() int {
	return c.lru.Len()
}
