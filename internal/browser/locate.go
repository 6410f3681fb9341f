// File: internal/browser/locate.go
package browser

import (
	"fmt"
	"os"
	"path/filepath"
)

// locateScript searches the main document and every reachable nested frame
// for the first visible match of a selector spec, then applies an action to
// it. A match counts only if it exists and is visible; invisible or detached
// nodes are skipped. Cross-origin frames are unreachable from script and are
// skipped the same way detached frames are.
//
// Placeholders: 1) JSON selector spec {css, xpath, text}, 2) JSON action
// string: "probe", "click" or "focus". Returns a boolean.
const locateScript = `
(function(spec, action) {
    const visible = (el) => {
        if (!el || !el.getBoundingClientRect) return false;
        const rect = el.getBoundingClientRect();
        const win = el.ownerDocument.defaultView;
        if (!win) return false;
        const style = win.getComputedStyle(el);
        return rect.width > 0 && rect.height > 0 &&
            style.display !== 'none' && style.visibility !== 'hidden';
    };

    const matchIn = (doc) => {
        if (spec.css) {
            for (const el of doc.querySelectorAll(spec.css)) {
                if (visible(el)) return el;
            }
        }
        if (spec.xpath) {
            const snap = doc.evaluate(spec.xpath, doc, null,
                XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
            for (let i = 0; i < snap.snapshotLength; i++) {
                const el = snap.snapshotItem(i);
                if (visible(el)) return el;
            }
        }
        if (spec.text) {
            const re = new RegExp(spec.text, 'i');
            const matches = [];
            for (const el of doc.querySelectorAll('body *')) {
                if (visible(el) && re.test(el.innerText || '')) matches.push(el);
            }
            // Prefer the deepest matching element so actions land on the
            // control, not a matching ancestor container.
            for (const el of matches) {
                if (!matches.some((other) => other !== el && el.contains(other))) return el;
            }
        }
        return null;
    };

    const search = (win) => {
        let el = null;
        try { el = matchIn(win.document); } catch (e) {}
        if (el) return el;
        for (let i = 0; i < win.frames.length; i++) {
            try {
                const found = search(win.frames[i]);
                if (found) return found;
            } catch (e) {}
        }
        return null;
    };

    const el = search(window);
    if (!el) return false;
    if (action === 'click') el.click();
    if (action === 'focus') el.focus();
    return true;
})(%s, %s)
`

// readStateFile returns the persisted state bytes, or nil when the file does
// not exist.
func readStateFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	return data, nil
}

// writeStateFile atomically persists the state bytes.
func writeStateFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
