package controller

// In-page functions. Each is a function declaration called with JSON arguments.
const (
	// readStorageFn returns the raw sessionStorage value under key, or null.
	readStorageFn = `(key) => sessionStorage.getItem(key)`

	// valueLengthFn is true once the element matching sel holds exactly n characters.
	// A missing element counts as not yet satisfied.
	valueLengthFn = `(sel, n) => {
	const el = document.querySelector(sel);
	return !!el && typeof el.value === "string" && el.value.length === n;
}`

	readValueFn = `(sel) => {
	const el = document.querySelector(sel);
	return el ? el.value : "";
}`

	// injectChallengeFn renders the challenge markup with an answer field on top
	// of the page and plays the audio cue to call the operator.
	injectChallengeFn = `(markup, inputId, audioUrl) => {
	const prior = document.getElementById(inputId + "-container");
	if (prior) { prior.remove(); }

	const container = document.createElement("div");
	container.id = inputId + "-container";
	container.style.cssText = "padding:20px;background-color:green;position:absolute;top:0;left:0;z-index:2147483647";

	const image = document.createElement("span");
	image.innerHTML = markup;
	container.appendChild(image);

	const input = document.createElement("input");
	input.id = inputId;
	input.autocomplete = "off";
	container.appendChild(input);

	document.body.appendChild(container);
	input.focus();

	if (audioUrl) {
		new Audio(audioUrl).play().catch((err) => console.error(err));
	}
	return true;
}`
)
