package service

import "fmt"

// HelpVersion is bumped whenever the help text changes.
const HelpVersion = "1.3"

const helpBody = `Here is what I can do with your notes:

  Create      "Note: buy milk #shopping"
  Find        "show my #work notes from last week", "find notes about the budget"
  Show        "show note 12"
  Edit        "change note 12 to say ...", "set priority of note 12 to high"
  Tag         "tag note 12 with urgent", "remove the urgent tag from note 12"
  Delete      "delete notes 3 and 4" (deleted notes can be restored)
  Restore     "restore note 3", "what notes have I deleted?"
  History     "show the history of note 12"
  Tags        "list all my tags", "suggest tags for note 12"
  Export      "export all my notes"

Dates like "today", "yesterday" or "since Monday" work in searches.
Tags may be typed, for example status:urgent or person:Jane.`

// HelpText is the static help shown for the show_help intent.
func HelpText() string {
	return fmt.Sprintf("KIT help v%s\n\n%s", HelpVersion, helpBody)
}
