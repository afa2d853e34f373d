package store

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY,
    username TEXT UNIQUE,
    full_name TEXT NOT NULL DEFAULT '',
    preferred_email TEXT NOT NULL DEFAULT '',
    registered_on INTEGER NOT NULL,
    is_admin INTEGER NOT NULL DEFAULT 0
);
`

const createChangesTable = `
CREATE TABLE IF NOT EXISTS changes (
    id INTEGER PRIMARY KEY,
    project TEXT NOT NULL,
    owner_id INTEGER NOT NULL REFERENCES accounts(id),
    status TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    created_on INTEGER NOT NULL,
    last_updated_on INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_changes_project ON changes(project);
CREATE INDEX IF NOT EXISTS idx_changes_owner ON changes(owner_id);
`

const createPatchSetsTable = `
CREATE TABLE IF NOT EXISTS patch_sets (
    change_id INTEGER NOT NULL REFERENCES changes(id),
    patch_set_id INTEGER NOT NULL,
    revision TEXT NOT NULL,
    uploader_id INTEGER NOT NULL,
    created_on INTEGER NOT NULL,
    PRIMARY KEY (change_id, patch_set_id)
);
`

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS change_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    change_id INTEGER NOT NULL REFERENCES changes(id),
    author_id INTEGER,
    message TEXT NOT NULL,
    written_on INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_change ON change_messages(change_id);
`

const createPermissionsTable = `
CREATE TABLE IF NOT EXISTS project_permissions (
    project TEXT NOT NULL,
    account_id INTEGER NOT NULL REFERENCES accounts(id),
    permission TEXT NOT NULL,
    PRIMARY KEY (project, account_id, permission)
);
`

const insertAccount = `
INSERT INTO accounts (username, full_name, preferred_email, registered_on, is_admin)
VALUES (?, ?, ?, ?, ?)
`

const selectAccount = `
SELECT id, COALESCE(username, ''), full_name, preferred_email, registered_on
FROM accounts
`

const insertChange = `
INSERT INTO changes (project, owner_id, status, subject, created_on, last_updated_on)
VALUES (?, ?, ?, ?, ?, ?)
`

const selectChange = `
SELECT id, project, owner_id, status, subject, created_on, last_updated_on
FROM changes WHERE id = ?
`

const insertPatchSet = `
INSERT INTO patch_sets (change_id, patch_set_id, revision, uploader_id, created_on)
VALUES (?, (SELECT COALESCE(MAX(patch_set_id), 0) + 1 FROM patch_sets WHERE change_id = ?), ?, ?, ?)
RETURNING patch_set_id
`

const insertMessage = `
INSERT INTO change_messages (change_id, author_id, message, written_on)
VALUES (?, ?, ?, ?)
`

const grantPermission = `
INSERT OR IGNORE INTO project_permissions (project, account_id, permission)
VALUES (?, ?, ?)
`

const hasPermission = `
SELECT COUNT(*) FROM project_permissions
WHERE account_id = ? AND permission = ? AND (project = ? OR project = '*')
`
