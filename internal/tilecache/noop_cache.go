package tilecache

type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(key Key) ([]byte, bool) {
	return nil, false
}

func (c *NoopCache) Has(key Key) bool {
	return false
}

func (c *NoopCache) Set(key Key, value []byte) {
}

func (c *NoopCache) DeleteSlide(slideID string) {
}

func (c *NoopCache) Clear() {
}
