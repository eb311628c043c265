package agentloop

import (
	"fmt"
	"strings"
)

// summaryPrefix introduces a compaction summary to the model that resumes
// the work.
const summaryPrefix = "Another language model started to solve this problem and produced a summary of its thinking process. " +
	"You also have access to the state of the tools that were used. " +
	"Use this to build on the work that has already been done and avoid duplicating work.\n\n" +
	"Here is the summary from the previous context:\n\n"

const compactionPrompt = `You are performing a CONTEXT CHECKPOINT COMPACTION. Write a handoff summary for another LLM that will resume the task.

Include:
- Current progress and the key decisions made
- Important context, constraints and user preferences
- What remains to be done, as clear next steps
- Any critical data, examples or references needed to continue
- Which files were modified and how
- Errors encountered and how they were resolved

Be concise and structured. Use bullet points and clear sections.`

const verificationPrompt = `<system-reminder>
# Self-verification required

You indicated the task may be complete. Before finishing, verify your work thoroughly.

## Original task (re-read it carefully)
%s

## Checklist

### 0. Extract the easy-to-miss constraints first
- Quantity and scope: counts, limits, "only", "exactly", "at most"
- Locations: exact file paths, directory names, where output must live
- Format and naming: extensions, naming conventions, case sensitivity
- Behavior: commands that must work (copy them exactly), expected outputs, versions
Write each constraint down, then verify each one below.

### 0.5. Example output is format only
- When the task shows "example output", "e.g." or "for example", the values are illustrative. They show structure, not data to match.
- Never derive your approach from example values. Never add offsets or transformations to reproduce them.
- For such output, check structure only: valid JSON, key shape, value types.
- Check exact values only when the task explicitly demands them.

### 1. Requirements
- Re-read the whole task word by word and list every requirement and expected outcome, implicit ones included.

### 2. Constraint verification
- Exact path required: confirm the file exists at that exact path.
- Exact command required: run that exact command and confirm it works.
- Quantity limits: count and compare.
Record the result for every constraint.

### 3. Work verification
- Run commands that check file contents, outputs and state. Do not assume; check.
- Run code you wrote. Read back files you changed.
- If the task names a target result, run the full pipeline and confirm the composed result matches it end to end.

### 4. Component testing
- Exercise every component the task mentions by actually calling it, not just importing it.
- If a test fails, fix the solution and rerun until it passes.

### 5. Edge cases and quality
- Handle the edge cases the task mentions and follow its format requirements.
- Look for errors or warnings in your implementation.

### 6. Workspace cleanup
- Remove artifacts you created that are not deliverables: caches, build output, scratch and log files.
- Never remove files that existed before you started.

### 7. Decision
- Everything verified: summarize what was done and confirm completion.
- Anything missing, broken or in the wrong place: fix it now with the tools.

## Reminders
- You are running headless. Do not ask the user questions or for confirmation.
- When something is ambiguous, make the most reasonable choice and proceed.
- Finish only once you have verified, not assumed, that everything works.

Proceed with verification now.
</system-reminder>`

const confirmationPrompt = `<system-reminder>
# Confirm your verification

You just completed a verification round. Use its result below; do not redo it.

## Original task
%s

## Your previous verification result
` + "```" + `
%s
` + "```" + `

## What to do now
1. Review the previous result and decide whether it covered every requirement and constraint of the task.
2. If it did, confirm that the task is complete without using any tools.
3. If some check is missing, use tools only for the missing checks, then confirm completion or report what remains.
4. If the task is incomplete (missing verification, unmet requirement or unresolved issue), your response MUST contain the exact phrase **task incomplete**.
5. When you are done, respond without tool calls to finalize.
</system-reminder>`

const incompleteFollowUp = "The task is incomplete. Please use the appropriate tools to complete the task. " +
	"Address any missing verifications, unmet requirements, or unresolved issues you identified, " +
	"then continue working until the task is done."

const invalidParamsNudge = "The tool '%s' was called with invalid parameters. " +
	"Please review the error above and return a corrected tool call with all required parameters properly specified."

const loopWarning = "Loop detected: your last %d tool calls repeat the same pattern. " +
	"Stop and try a different approach."

// incompletePhrase is what the confirmation prompt asks the model to say
// when work remains.
const incompletePhrase = "task incomplete"

func formatVerificationPrompt(instruction string) string {
	return fmt.Sprintf(verificationPrompt, instruction)
}

func formatConfirmationPrompt(instruction, previous string) string {
	// A fence inside the previous result would close ours early.
	previous = strings.ReplaceAll(previous, "```", "'''")
	return fmt.Sprintf(confirmationPrompt, instruction, previous)
}

func formatSnapshot(listing string) string {
	return "Current directory and files:\n```\n" + listing + "\n```"
}
