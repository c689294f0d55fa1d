package podmanager

// Orphan adoption — discovering pods left behind by a controller that died
// without a chance to clean up — is explicitly out of scope per spec.md
// §9's open questions. This file exists only to mark the gap.
//
// TODO: on startup, list pods by a controller-owned label selector and
// either adopt them into fresh Pod Managers or delete them outright; neither
// policy is specified.
