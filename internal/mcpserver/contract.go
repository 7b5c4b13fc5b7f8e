package mcpserver

// LinkingGuide describes how notes and links work in the slip-box so LLM
// consumers capture atomic notes and link them in the right direction.
const LinkingGuide = `# Slip-box Linking Guide

A slip-box holds short, atomic notes connected by directed links.

## Notes

- One idea per note. Plain text; the first non-blank line is the title.
- Tags are written inline as ` + "`" + `#tag` + "`" + ` (letters, digits and ` + "`" + `_` + "`" + `).
  They are derived from the content on every save, never set directly.
- Notes are addressed by opaque ids returned from ` + "`" + `capture_note` + "`" + `.
- A blank note cannot be captured.

## Links

Every link has two ends:

- **posterior**: the note that follows from, elaborates or continues this one.
- **anterior**: the note this one follows from.

Linking A to B as posterior also records A as anterior on B. Removing either
end removes both. A note cannot link to itself, and a pair is linked at most
once per direction.

## Workflow

1. Search for related notes with ` + "`" + `list_notes` + "`" + ` (optionally by tag) or explore
   with ` + "`" + `neighborhood` + "`" + `.
2. Capture the new idea with ` + "`" + `capture_note` + "`" + `. Pass ` + "`" + `link_from` + "`" + ` and
   ` + "`" + `direction` + "`" + ` to capture and link in one step.
3. Add further links with ` + "`" + `link_notes` + "`" + `.
4. When editing with ` + "`" + `update_note` + "`" + `, pass the ` + "`" + `checksum` + "`" + ` from
   ` + "`" + `read_note` + "`" + ` as ` + "`" + `if_match` + "`" + ` to avoid overwriting a concurrent edit.
`
