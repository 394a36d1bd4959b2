package observe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/aditya-todi/crustdata-browser-operator/internal/browser"
)

// MaxElements bounds every snapshot handed to the planner.
const MaxElements = 200

// Dimensions is the bounding rectangle of an element in viewport pixels.
type Dimensions struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Element is a snapshot of one visible interactive node. The JSON tags
// are the wire shape fed to the synthesizer and stored on committed steps.
type Element struct {
	Text        string     `json:"text,omitempty"`
	TagName     string     `json:"tag_name,omitempty"`
	ID          string     `json:"id,omitempty"`
	ClassName   string     `json:"class_name,omitempty"`
	Href        string     `json:"href,omitempty"`
	Type        string     `json:"type,omitempty"`
	Placeholder string     `json:"placeholder,omitempty"`
	Role        string     `json:"role,omitempty"`
	Dimensions  Dimensions `json:"-"`
}

// Observer enumerates visible interactive elements on a live page.
// Implementations must not mutate the page and must tolerate being
// called before any content has loaded (returning an empty list).
type Observer interface {
	Observe(ctx context.Context, page browser.Page) ([]Element, error)
}

type domObserver struct{}

// NewObserver returns the playwright-backed element observer.
func NewObserver() Observer {
	return domObserver{}
}

const collectScript = `() => {
	const clickableSelectors = [
		'a', 'button', 'input', 'select', 'textarea', 'label',
		'details', 'summary', 'audio[controls]', 'video[controls]',

		'form', 'fieldset', 'legend', 'option', 'optgroup',
		'input[type="text"]', 'input[type="password"]', 'input[type="checkbox"]',
		'input[type="radio"]', 'input[type="submit"]', 'input[type="reset"]',
		'input[type="file"]', 'input[type="image"]', 'input[type="button"]',
		'input[type="search"]', 'input[type="email"]', 'input[type="tel"]',
		'input[type="number"]', 'input[type="range"]', 'input[type="date"]',

		'[tabindex]:not([tabindex="-1"])',

		'[role="button"]', '[role="link"]', '[role="checkbox"]', '[role="radio"]',
		'[role="tab"]', '[role="menuitem"]', '[role="menuitemcheckbox"]',
		'[role="menuitemradio"]', '[role="option"]', '[role="switch"]',
		'[role="textbox"]', '[role="searchbox"]', '[role="spinbutton"]',

		'[onclick]', '[onmousedown]', '[onmouseup]', '[ontouchstart]',
		'[ontouchend]', '[onkeydown]', '[onkeyup]',

		'.btn', '.button', '.clickable', '.link', '.nav-link', '.dropdown-item',
		'.menu-item', '.nav-item', '.toggle', '.switch', '.accordion-button',
		'.card-link', '.page-link', '.list-group-item', '.icon-button',
		'.close', '.dismiss', '.tab-link',

		'.dropdown-toggle', '.navbar-toggler', '.page-item', '.carousel-control',
		'.modal-header .close', '.nav-tabs .nav-link',

		'.mdc-button', '.mat-button', '.mat-icon-button', '.mat-menu-item',
		'.mat-tab-label', '.mat-checkbox', '.mat-radio-button',

		'[data-toggle]', '[data-target]', '[data-dismiss]', '[data-close]',
		'[data-open]', '[data-action]', '[data-trigger]', '[data-bs-toggle]',
		'[data-bs-target]', '[data-bs-dismiss]'
	];

	const elements = Array.from(
		document.querySelectorAll(clickableSelectors.join(','))
	);

	const visible = elements.filter(el => {
		const style = window.getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		return style.display !== 'none' && style.visibility !== 'hidden' && rect.width > 0 && rect.height > 0;
	});

	return visible.slice(0, %d).map(el => {
		const rect = el.getBoundingClientRect();
		return {
			text: (el.textContent || '').substring(0, 20),
			tag_name: el.tagName.toLowerCase(),
			id: el.id || '',
			class_name: el.className || '',
			href: el.href || '',
			type: el.type || '',
			placeholder: el.placeholder || '',
			role: el.getAttribute('role') || '',
			dimensions: {
				left: Math.round(rect.left),
				top: Math.round(rect.top),
				width: Math.round(rect.width),
				height: Math.round(rect.height)
			}
		};
	});
}`

func (domObserver) Observe(ctx context.Context, page browser.Page) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw := page.Raw()
	// A page with no pending navigation still answers Evaluate.
	_ = raw.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(5000),
	})
	val, err := raw.Evaluate(fmt.Sprintf(collectScript, MaxElements))
	if err != nil {
		return nil, fmt.Errorf("observe elements: %w", err)
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("observe elements: %w", err)
	}
	var elems []struct {
		Element
		Dimensions Dimensions `json:"dimensions"`
	}
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("observe elements: %w", err)
	}
	out := make([]Element, 0, len(elems))
	for _, e := range elems {
		el := e.Element
		el.Dimensions = e.Dimensions
		out = append(out, el)
	}
	return out, nil
}

const highlightScript = `(boxes) => {
	const existing = document.querySelectorAll('div[data-operator-overlay]');
	existing.forEach(overlay => overlay.remove());

	boxes.forEach((rect, index) => {
		const overlay = document.createElement('div');
		overlay.setAttribute('data-operator-overlay', '1');
		overlay.style.position = 'absolute';
		overlay.style.left = rect.left + 'px';
		overlay.style.top = rect.top + 'px';
		overlay.style.width = rect.width + 'px';
		overlay.style.height = rect.height + 'px';
		overlay.style.border = '1px solid red';
		overlay.style.backgroundColor = 'rgba(255, 0, 0, 0.05)';
		overlay.style.zIndex = '10000';
		overlay.style.pointerEvents = 'none';

		const label = document.createElement('span');
		label.style.background = 'black';
		label.style.color = 'white';
		label.style.fontSize = '12px';
		label.style.padding = '2px';
		label.textContent = String(index + 1);

		overlay.appendChild(label);
		document.body.appendChild(overlay);
	});
}`

// Highlight draws numbered overlay boxes over the observed elements.
// Purely cosmetic; failures are reported but harmless.
func Highlight(ctx context.Context, page browser.Page, elements []Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	boxes := make([]map[string]int, 0, len(elements))
	for _, el := range elements {
		boxes = append(boxes, map[string]int{
			"left":   el.Dimensions.Left,
			"top":    el.Dimensions.Top,
			"width":  el.Dimensions.Width,
			"height": el.Dimensions.Height,
		})
	}
	if _, err := page.Raw().Evaluate(highlightScript, boxes); err != nil {
		return fmt.Errorf("highlight elements: %w", err)
	}
	return nil
}
