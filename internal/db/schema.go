package db

import "fmt"

// SchemaSQL returns the schema definition with the embedding index sized to dimension.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}

const schemaTemplate = `
    -- ==========================================================================
    -- WRITER / TEXT
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS writer SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON writer TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON writer TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS writer_name ON writer FIELDS name UNIQUE;

    DEFINE TABLE IF NOT EXISTS text SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON text TYPE string;
    DEFINE FIELD IF NOT EXISTS writer ON text TYPE record<writer>;
    DEFINE FIELD IF NOT EXISTS blob_ref ON text TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON text TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS text_writer ON text FIELDS writer;

    -- ==========================================================================
    -- JOB (one active job per text is checked inside the create transaction)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS text ON job TYPE record<text>;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string
        ASSERT $value IN ["pending", "processing", "completed", "failed", "paused"];
    DEFINE FIELD IF NOT EXISTS sentence_count ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS total_sentences ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS run_id ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON job TYPE option<datetime>;
    DEFINE INDEX IF NOT EXISTS job_text_status ON job FIELDS text, status;
    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;

    -- ==========================================================================
    -- SENTENCE / EMBEDDING
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS sentence SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS text ON sentence TYPE record<text>;
    DEFINE FIELD IF NOT EXISTS content ON sentence TYPE string;
    DEFINE FIELD IF NOT EXISTS sentence_index ON sentence TYPE int;
    DEFINE FIELD IF NOT EXISTS created_at ON sentence TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS sentence_text_index ON sentence FIELDS text, sentence_index UNIQUE;

    DEFINE TABLE IF NOT EXISTS embedding SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS sentence ON embedding TYPE record<sentence>;
    DEFINE FIELD IF NOT EXISTS writer ON embedding TYPE record<writer>;
    DEFINE FIELD IF NOT EXISTS vector ON embedding TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON embedding TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS embedding_sentence ON embedding FIELDS sentence UNIQUE;
    DEFINE INDEX IF NOT EXISTS embedding_writer ON embedding FIELDS writer;
    DEFINE INDEX IF NOT EXISTS embedding_vector ON embedding FIELDS vector HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- CONVERSATION / MESSAGE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS writers ON conversation TYPE array<record<writer>>;
    DEFINE FIELD IF NOT EXISTS created_at ON conversation TYPE datetime DEFAULT time::now();

    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation ON message TYPE record<conversation>;
    DEFINE FIELD IF NOT EXISTS sender ON message TYPE string ASSERT $value IN ["user", "system"];
    DEFINE FIELD IF NOT EXISTS sentence ON message TYPE option<record<sentence>>;
    DEFINE FIELD IF NOT EXISTS text ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS seq ON message TYPE int;
    DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS message_seq ON message FIELDS conversation, seq UNIQUE;
    DEFINE INDEX IF NOT EXISTS message_sentence ON message FIELDS conversation, sentence;
`
