package discovery

// Extraction expressions executed inside the remote process. Their
// payloads are opaque to the reconciler except for the "found" flag and
// the metadata fields parsed out of a successful probe.

// metadataScript probes the page for the monitored panel and reports its
// metadata. A context that doesn't host the panel answers found:false.
const metadataScript = `(() => {
	const panel = document.querySelector('[data-conversation-id]');
	if (!panel) {
		return { found: false };
	}
	return {
		found: true,
		title: document.title || '',
		active: document.hasFocus(),
		conversationId: panel.getAttribute('data-conversation-id') || '',
		location: window.location.href,
	};
})()`

// styleScript captures the panel's presentation once at entry creation.
// Computed style is expensive to pull and near-static, so it is never
// re-polled.
const styleScript = `(() => {
	const cs = getComputedStyle(document.body);
	return {
		fontFamily: cs.fontFamily,
		fontSize: cs.fontSize,
		background: cs.backgroundColor,
		color: cs.color,
		theme: document.documentElement.getAttribute('data-theme') || '',
	};
})()`
