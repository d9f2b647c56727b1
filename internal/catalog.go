package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	apperrors "github.com/koopa0/system-design/14-party-room/pkg/errors"
)

// Prompt 題庫中的一題
type Prompt struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

// PromptSource 依回合索引取題
type PromptSource interface {
	PromptAt(ctx context.Context, index int) (Prompt, error)
}

// Catalog 題庫：取題 + 查正解
type Catalog interface {
	AnswerLookup
	PromptSource
}

// FileCatalog 從 YAML 載入、常駐記憶體的題庫
type FileCatalog struct {
	prompts []Prompt
	byID    map[string]Prompt
}

// NewFileCatalog 以題目列表建立題庫
func NewFileCatalog(prompts []Prompt) *FileCatalog {
	c := &FileCatalog{
		prompts: append([]Prompt(nil), prompts...),
		byID:    make(map[string]Prompt, len(prompts)),
	}
	for _, p := range prompts {
		c.byID[p.ID] = p
	}
	return c
}

// LoadFileCatalog 讀取 YAML 題庫檔案
//
//	prompts:
//	  - id: capital-au
//	    question: What is the capital of Australia?
//	    answer: Canberra
func LoadFileCatalog(path string) (*FileCatalog, error) {
	// #nosec G304 - path 來自配置
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog 解析 YAML 題庫
func ParseCatalog(data []byte) (*FileCatalog, error) {
	var doc struct {
		Prompts []Prompt `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Prompts))
	for i, p := range doc.Prompts {
		if p.ID == "" || p.Question == "" || p.Answer == "" {
			return nil, fmt.Errorf("prompt #%d: id, question and answer are required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("duplicate prompt id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	return NewFileCatalog(doc.Prompts), nil
}

// GetAnswerForPrompt 查詢正解
func (c *FileCatalog) GetAnswerForPrompt(_ context.Context, promptID string) (string, error) {
	p, ok := c.byID[promptID]
	if !ok {
		return "", apperrors.ErrPromptNotFound.WithDetails(promptID)
	}
	return p.Answer, nil
}

// PromptAt 依索引取題，超過題數時循環
func (c *FileCatalog) PromptAt(_ context.Context, index int) (Prompt, error) {
	if len(c.prompts) == 0 || index < 0 {
		return Prompt{}, apperrors.ErrPromptNotFound
	}
	return c.prompts[index%len(c.prompts)], nil
}

// Len 題數
func (c *FileCatalog) Len() int {
	return len(c.prompts)
}

// Prompts 所有題目（出題順序）
func (c *FileCatalog) Prompts() []Prompt {
	return append([]Prompt(nil), c.prompts...)
}

// RedisCatalog 以 Redis 儲存的題庫
//
// 資料結構：
//
//	{prefix}:prompts          LIST  題目 ID（出題順序）
//	{prefix}:prompt:{id}      HASH  question / answer
//
// 每次查詢都有獨立的逾時，Redis 變慢時廣播會退回預設正解而不是卡住。
type RedisCatalog struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisCatalog 創建 Redis 題庫
func NewRedisCatalog(client *redis.Client, prefix string, timeout time.Duration) *RedisCatalog {
	if prefix == "" {
		prefix = "party"
	}
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &RedisCatalog{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
	}
}

func (c *RedisCatalog) listKey() string {
	return c.prefix + ":prompts"
}

func (c *RedisCatalog) promptKey(id string) string {
	return c.prefix + ":prompt:" + id
}

// GetAnswerForPrompt 查詢正解
func (c *RedisCatalog) GetAnswerForPrompt(ctx context.Context, promptID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	answer, err := c.client.HGet(ctx, c.promptKey(promptID), "answer").Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.ErrPromptNotFound.WithDetails(promptID)
	}
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "lookup answer")
	}
	return answer, nil
}

// PromptAt 依索引取題，超過題數時循環
func (c *RedisCatalog) PromptAt(ctx context.Context, index int) (Prompt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.client.LLen(ctx, c.listKey()).Result()
	if err != nil {
		return Prompt{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "count prompts")
	}
	if n == 0 || index < 0 {
		return Prompt{}, apperrors.ErrPromptNotFound
	}

	id, err := c.client.LIndex(ctx, c.listKey(), int64(index)%n).Result()
	if errors.Is(err, redis.Nil) {
		return Prompt{}, apperrors.ErrPromptNotFound
	}
	if err != nil {
		return Prompt{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "read prompt id")
	}

	fields, err := c.client.HGetAll(ctx, c.promptKey(id)).Result()
	if err != nil {
		return Prompt{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "read prompt")
	}
	if len(fields) == 0 {
		return Prompt{}, apperrors.ErrPromptNotFound.WithDetails(id)
	}

	return Prompt{
		ID:       id,
		Question: fields["question"],
		Answer:   fields["answer"],
	}, nil
}

// Seed 以交易寫入整份題庫，取代原有的出題順序
func (c *RedisCatalog) Seed(ctx context.Context, prompts []Prompt) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.listKey())
		for _, p := range prompts {
			pipe.HSet(ctx, c.promptKey(p.ID), "question", p.Question, "answer", p.Answer)
			pipe.RPush(ctx, c.listKey(), p.ID)
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "seed prompts")
	}
	return nil
}
