package postgres

// VectorDimension is the embedding width the store's DDL is provisioned for.
// It must match the dimension the configured embedding model returns.
const VectorDimension = 1536

// schema is reproduced bit-exact from the persistence contract: pgvector
// column with an HNSW cosine index on memory, jsonb content with a
// (story_id, extracted) composite index on message, and a plain btree index
// on story.user_id.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS story (
    id SERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT,
    handler TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_story_user_id ON story(user_id);

CREATE TABLE IF NOT EXISTS message (
    id SERIAL PRIMARY KEY,
    story_id INTEGER NOT NULL REFERENCES story(id) ON DELETE CASCADE,
    content_type TEXT NOT NULL CHECK (content_type IN ('query', 'response')),
    content JSONB NOT NULL,
    extracted BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_message_story_id ON message(story_id);
CREATE INDEX IF NOT EXISTS idx_message_extracted ON message(extracted);
CREATE INDEX IF NOT EXISTS idx_message_story_extracted ON message(story_id, extracted);

CREATE TABLE IF NOT EXISTS memory (
    id SERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    content TEXT,
    previous_content TEXT,
    category TEXT,
    importance REAL,
    confidence REAL,
    action TEXT CHECK (action IN ('ADD', 'UPDATE', 'DELETE')),
    embedding vector(1536),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_user_id ON memory(user_id);
CREATE INDEX IF NOT EXISTS idx_memory_embedding_hnsw ON memory
    USING hnsw (embedding vector_cosine_ops);
`
