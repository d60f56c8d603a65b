// Package selfmod provides a high-level library API for the
// self-modification safety pipeline.
//
// This package is the primary integration point for host applications
// that let an assistant propose changes to its own source. It wraps the
// internal packages into a clean, stable public API.
//
// # Lifecycle
//
// Every change to a file inside the workspace goes through the same
// gatehouse:
//
//  1. Propose — the change is risk-classified and an approval request
//     is opened. SAFE changes auto-approve; everything else waits for
//     the owner.
//  2. Apply — with the tier's exact acknowledgment phrase, the change
//     is backed up, written atomically, structurally validated, and
//     rolled back on any failure.
//  3. The audit trail records every step in an append-only,
//     hash-chained log. Nothing the pipeline does is unrecorded.
//
// # Recommended Usage Pattern
//
//	client, err := selfmod.OpenOrInit(ctx, workspaceRoot)
//	defer client.Close()
//
//	res, err := client.Propose(ctx, path, newContent, "tighten input validation")
//	if res.Classification.RequiresApproval {
//	    // surface res.Approval.RequiredPhrase and res.Classification.Reasons
//	    // to the owner, then:
//	    outcome, err := client.Apply(ctx, res.Patch.ID, ownerPhrase)
//	}
package selfmod
